package ton

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"adsmarket/settlement/internal/config"
	"adsmarket/settlement/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(&config.TonConfig{
		RPCEndpoint:  server.URL,
		APIKey:       "test-key",
		WalletSecret: "s3cret",
	}, zap.NewNop())
	return client, server
}

func TestSubmitTransfer(t *testing.T) {
	var gotReq submitRequest
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transfers" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(submitResponse{TxRef: "ref-1"})
	}))

	ref, err := client.SubmitTransfer(context.Background(), "0:aa", "0:bb", models.NewAmount(1000000000), "tag-1")
	if err != nil {
		t.Fatalf("SubmitTransfer failed: %v", err)
	}
	if ref != "ref-1" {
		t.Errorf("expected ref-1, got %s", ref)
	}
	if gotReq.Value != "1000000000" || gotReq.Comment != "tag-1" || gotReq.Secret != "s3cret" {
		t.Errorf("unexpected request body: %+v", gotReq)
	}
}

func TestSubmitTransferServerError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.SubmitTransfer(context.Background(), "0:aa", "0:bb", models.NewAmount(100), "")
	if !errors.Is(err, models.ErrChainUnavailable) {
		t.Errorf("5xx must map to ErrChainUnavailable, got %v", err)
	}
}

func TestSubmitTransferRejected(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	_, err := client.SubmitTransfer(context.Background(), "0:aa", "0:bb", models.NewAmount(100), "")
	if err == nil {
		t.Fatal("expected error")
	}
	// A definitive rejection must NOT look like an ambiguous outage.
	if errors.Is(err, models.ErrChainUnavailable) {
		t.Errorf("4xx must not map to ErrChainUnavailable: %v", err)
	}
}

func TestGetSequenceNumber(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/0:aa/seqno" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(seqnoResponse{Seqno: 41})
	}))

	seq, err := client.GetSequenceNumber(context.Background(), "0:aa")
	if err != nil {
		t.Fatalf("GetSequenceNumber failed: %v", err)
	}
	if seq != 41 {
		t.Errorf("expected seqno 41, got %d", seq)
	}
}

func TestListConfirmedTransactionsNormalizes(t *testing.T) {
	now := time.Now().Unix()
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]rawTransaction{
			{Hash: "h1", Lt: 100, Source: "0:bb", Value: "500", Comment: "tag-1", Timestamp: now},
			{Hash: "", Lt: 101, Value: "500"},               // no hash: skipped
			{Hash: "h2", Lt: 102, Value: "not-a-number"},    // bad value: skipped
			{Hash: "h3", Lt: 103, Value: "-5"},              // negative: skipped
			{Hash: "h4", Lt: 104, Value: "9", Payload: "dGFnLTI="}, // base64 "tag-2"
		})
	}))

	txs, err := client.ListConfirmedTransactions(context.Background(), "0:aa", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListConfirmedTransactions failed: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 normalized transactions, got %d", len(txs))
	}

	if txs[0].TxID != "h1:100" {
		t.Errorf("expected tx id h1:100, got %s", txs[0].TxID)
	}
	if txs[0].Comment != "tag-1" {
		t.Errorf("expected comment tag-1, got %s", txs[0].Comment)
	}
	if txs[1].Comment != "tag-2" {
		t.Errorf("expected base64 payload decoded to tag-2, got %s", txs[1].Comment)
	}
}

func TestTransactionID(t *testing.T) {
	if got := TransactionID("abc", 42); got != "abc:42" {
		t.Errorf("expected abc:42, got %s", got)
	}
	// Same hash, different logical time is a different transaction.
	if TransactionID("abc", 1) == TransactionID("abc", 2) {
		t.Error("logical time must distinguish transaction ids")
	}
}

func TestParseComment(t *testing.T) {
	tests := []struct {
		name  string
		entry rawTransaction
		want  string
		ok    bool
	}{
		{"plain comment", rawTransaction{Comment: "tag-1"}, "tag-1", true},
		{"base64 payload", rawTransaction{Payload: "dGFnLTI="}, "tag-2", true},
		{"comment wins over payload", rawTransaction{Comment: "a", Payload: "dGFnLTI="}, "a", true},
		{"empty", rawTransaction{}, "", false},
		{"invalid base64", rawTransaction{Payload: "%%%"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseComment(tt.entry)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseComment() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	client := NewClient(&config.TonConfig{RPCEndpoint: "http://localhost:0"}, zap.NewNop())

	hex64 := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	tests := []struct {
		name    string
		address string
		valid   bool
	}{
		{"raw basechain", "0:" + hex64, true},
		{"raw masterchain", "-1:" + hex64, true},
		{"friendly form", "EQ" + strings.Repeat("A", 45) + "M", true},
		{"friendly form too short", "EQ" + strings.Repeat("A", 40), false},
		{"short hex", "0:abcdef", false},
		{"bad hex", "0:" + hex64[:63] + "z", false},
		{"empty", "", false},
		{"garbage", "not an address", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := client.ValidateAddress(tt.address); got != tt.valid {
				t.Errorf("ValidateAddress(%q) = %v, want %v", tt.address, got, tt.valid)
			}
		})
	}
}
