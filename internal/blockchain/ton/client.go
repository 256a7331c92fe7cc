package ton

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"adsmarket/settlement/internal/config"
	"adsmarket/settlement/internal/models"
)

// Client talks to a TON-style ledger over its HTTP RPC API. It holds no
// durable state; every method is a thin request/response wrapper that
// normalizes raw payloads into the narrow schema the engine consumes.
type Client struct {
	endpoint string
	apiKey   string
	secret   string
	http     *http.Client
	logger   *zap.Logger
}

// NewClient creates a new ledger client
func NewClient(cfg *config.TonConfig, logger *zap.Logger) *Client {
	return &Client{
		endpoint: cfg.RPCEndpoint,
		apiKey:   cfg.APIKey,
		secret:   cfg.WalletSecret,
		http:     &http.Client{Timeout: 15 * time.Second},
		logger:   logger.Named("ton"),
	}
}

// rawTransaction is the wire shape of one confirmed transaction entry.
// Fields the engine does not understand are dropped at this boundary.
type rawTransaction struct {
	Hash      string `json:"hash"`
	Lt        int64  `json:"lt"`
	Source    string `json:"source"`
	Value     string `json:"value"`
	Comment   string `json:"comment"`
	Payload   string `json:"payload"`
	Timestamp int64  `json:"utime"`
}

type submitRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Value   string `json:"value"`
	Comment string `json:"comment,omitempty"`
	Secret  string `json:"secret"`
}

type submitResponse struct {
	TxRef string `json:"tx_ref"`
}

type seqnoResponse struct {
	Seqno uint64 `json:"seqno"`
}

// SubmitTransfer signs and broadcasts a value transfer with an optional
// comment carried verbatim. Returns the ledger's transaction reference.
func (c *Client) SubmitTransfer(ctx context.Context, from, to string, amount models.Amount, comment string) (string, error) {
	body, err := json.Marshal(submitRequest{
		From:    from,
		To:      to,
		Value:   amount.String(),
		Comment: comment,
		Secret:  c.secret,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode transfer: %w", err)
	}

	var resp submitResponse
	if err := c.post(ctx, "/transfers", body, &resp); err != nil {
		return "", err
	}
	if resp.TxRef == "" {
		return "", fmt.Errorf("%w: empty transfer reference", models.ErrChainUnavailable)
	}

	c.logger.Info("Transfer submitted",
		zap.String("to", to),
		zap.String("amount", amount.String()),
		zap.String("tx_ref", resp.TxRef))

	return resp.TxRef, nil
}

// GetSequenceNumber returns the current outbound counter for an account.
func (c *Client) GetSequenceNumber(ctx context.Context, account string) (uint64, error) {
	var resp seqnoResponse
	path := fmt.Sprintf("/accounts/%s/seqno", url.PathEscape(account))
	if err := c.get(ctx, path, &resp); err != nil {
		return 0, err
	}
	return resp.Seqno, nil
}

// ListConfirmedTransactions lists confirmed incoming transactions for the
// watched account. Entries that do not parse into the narrow schema are
// logged and skipped; they never reach the ledger.
func (c *Client) ListConfirmedTransactions(ctx context.Context, account string, since time.Time) ([]models.ChainTransaction, error) {
	var raw []rawTransaction
	path := fmt.Sprintf("/accounts/%s/transactions?since=%d", url.PathEscape(account), since.Unix())
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, err
	}

	txs := make([]models.ChainTransaction, 0, len(raw))
	for _, entry := range raw {
		tx, ok := c.normalize(entry)
		if !ok {
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// normalize converts a raw entry into the fixed schema, rejecting anything
// malformed.
func (c *Client) normalize(entry rawTransaction) (models.ChainTransaction, bool) {
	if entry.Hash == "" {
		c.logger.Warn("Skipping transaction without hash")
		return models.ChainTransaction{}, false
	}

	amount, err := models.AmountFromString(entry.Value)
	if err != nil || !amount.IsPositive() {
		c.logger.Warn("Skipping transaction with invalid value",
			zap.String("hash", entry.Hash),
			zap.String("value", entry.Value))
		return models.ChainTransaction{}, false
	}

	comment, _ := ParseComment(entry)

	return models.ChainTransaction{
		TxID:      TransactionID(entry.Hash, entry.Lt),
		From:      entry.Source,
		Amount:    amount,
		Comment:   comment,
		Timestamp: time.Unix(entry.Timestamp, 0).UTC(),
	}, true
}

// TransactionID computes the unique identifier for a confirmed transaction
// from its hash and logical time.
func TransactionID(hash string, lt int64) string {
	return hash + ":" + strconv.FormatInt(lt, 10)
}

// ParseComment extracts the opaque tag from a transaction payload. Comments
// arrive either as plain text or as a base64-encoded payload cell.
func ParseComment(entry rawTransaction) (string, bool) {
	if entry.Comment != "" {
		return entry.Comment, true
	}
	if entry.Payload == "" {
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(entry.Payload)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

var (
	rawAddressRe   = regexp.MustCompile(`^-?[0-9]:[0-9a-fA-F]{64}$`)
	friendlyAddrRe = regexp.MustCompile(`^[A-Za-z0-9_-]{48}$`)
)

// ValidateAddress reports whether an address is syntactically valid, in
// either raw ("0:<64 hex>") or url-safe friendly form.
func (c *Client) ValidateAddress(address string) bool {
	return rawAddressRe.MatchString(address) || friendlyAddrRe.MatchString(address)
}

// ==================== HTTP plumbing ====================

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrChainUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", models.ErrChainUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger request failed with status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode ledger response: %w", err)
	}
	return nil
}
