package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Client publishes channel posts through the Bot API and reads delivery
// evidence (existence, view counts) from the public embed pages, since the
// Bot API does not expose view counters.
type Client struct {
	bot    *tgbotapi.BotAPI
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a new platform client
func NewClient(botToken string, logger *zap.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot client: %w", err)
	}

	return &Client{
		bot:    bot,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger.Named("telegram"),
	}, nil
}

// PublishPost sends a post to the channel and returns its message id.
func (c *Client) PublishPost(ctx context.Context, channelRef, text string) (int64, error) {
	msg := tgbotapi.NewMessageToChannel("@"+normalizeChannel(channelRef), text)

	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to publish post to %s: %w", channelRef, err)
	}

	c.logger.Info("Post published",
		zap.String("channel", channelRef),
		zap.Int("message_id", sent.MessageID))

	return int64(sent.MessageID), nil
}

// MessageExists checks whether a channel post is still live.
func (c *Client) MessageExists(ctx context.Context, channelRef string, messageID int64) (bool, error) {
	body, err := c.fetchEmbed(ctx, channelRef, messageID)
	if err != nil {
		return false, err
	}
	// Deleted or never-existing posts render an error stub without the
	// message widget.
	return strings.Contains(body, "tgme_widget_message_bubble"), nil
}

// GetViewCount reads the current view counter for a channel post.
func (c *Client) GetViewCount(ctx context.Context, channelRef string, messageID int64) (int64, error) {
	body, err := c.fetchEmbed(ctx, channelRef, messageID)
	if err != nil {
		return 0, err
	}

	match := viewsRe.FindStringSubmatch(body)
	if match == nil {
		// A live post with no counter yet has zero views.
		return 0, nil
	}

	views, err := parseViews(match[1])
	if err != nil {
		return 0, fmt.Errorf("failed to parse view count %q: %w", match[1], err)
	}
	return views, nil
}

var viewsRe = regexp.MustCompile(`tgme_widget_message_views[^>]*>([0-9.,]+[KM]?)<`)

// parseViews converts the rendered counter ("847", "12.3K", "1.2M") into an
// exact lower-bound integer.
func parseViews(s string) (int64, error) {
	s = strings.ReplaceAll(s, ",", "")

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1_000
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1_000_000
		s = strings.TrimSuffix(s, "M")
	}

	if dot := strings.Index(s, "."); dot >= 0 {
		whole, err := strconv.ParseInt(s[:dot], 10, 64)
		if err != nil {
			return 0, err
		}
		frac := s[dot+1:]
		fracVal, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, err
		}
		divisor := int64(1)
		for range frac {
			divisor *= 10
		}
		return whole*multiplier + fracVal*multiplier/divisor, nil
	}

	value, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return value * multiplier, nil
}

func (c *Client) fetchEmbed(ctx context.Context, channelRef string, messageID int64) (string, error) {
	channel := normalizeChannel(channelRef)
	url := fmt.Sprintf("https://t.me/%s/%d?embed=1", channel, messageID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build embed request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch post %s/%d: %w", channel, messageID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("embed page for %s/%d returned status %d", channel, messageID, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read embed page: %w", err)
	}
	return string(body), nil
}

func normalizeChannel(channelRef string) string {
	return strings.TrimPrefix(channelRef, "@")
}
