// Package httpasset talks to a remote asset ledger over HTTP. Transfers are
// posted with an idempotency key so client retries never move funds twice.
package httpasset

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/vault_ledger/internal/httputil"
	"github.com/R3E-Network/vault_ledger/internal/ledger"
	"github.com/R3E-Network/vault_ledger/pkg/logger"
)

// ErrRejected is returned when the remote ledger refuses a transfer.
var ErrRejected = errors.New("transfer rejected by asset ledger")

// Config configures the client.
type Config struct {
	BaseURL string
	Token   string
	// Vault is the custody account of the ledger on the remote side.
	Vault      string
	Asset      string
	Timeout    time.Duration
	MaxRetries int
}

// Client implements ledger.Asset against a remote asset ledger.
type Client struct {
	http  *httputil.Client
	vault string
	asset string
	log   *logger.Logger
	newID func() string
}

var _ ledger.Asset = (*Client)(nil)

// New creates a Client.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("asset ledger base URL is required")
	}
	if cfg.Vault == "" {
		return nil, fmt.Errorf("vault account is required")
	}
	if log == nil {
		log = logger.NewDefault("httpasset")
	}
	return &Client{
		http: httputil.NewClient(httputil.ClientConfig{
			BaseURL:    cfg.BaseURL,
			Token:      cfg.Token,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		}),
		vault: cfg.Vault,
		asset: cfg.Asset,
		log:   log,
		newID: uuid.NewString,
	}, nil
}

type transferRequest struct {
	Reference string `json:"reference"`
	Asset     string `json:"asset,omitempty"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    uint64 `json:"amount,string"`
}

// TransferIn moves amount from holder into the vault.
func (c *Client) TransferIn(ctx context.Context, from string, amount uint64) error {
	return c.transfer(ctx, from, c.vault, amount)
}

// TransferOut moves amount from the vault to holder.
func (c *Client) TransferOut(ctx context.Context, to string, amount uint64) error {
	return c.transfer(ctx, c.vault, to, amount)
}

func (c *Client) transfer(ctx context.Context, from, to string, amount uint64) error {
	req := transferRequest{
		Reference: c.newID(),
		Asset:     c.asset,
		From:      from,
		To:        to,
		Amount:    amount,
	}
	resp, err := c.http.Post(ctx, "/v1/transfers", req)
	if err != nil {
		return err
	}
	body, err := httputil.ReadBody(resp)
	if err != nil {
		var se *httputil.StatusError
		if errors.As(err, &se) && se.StatusCode < http.StatusInternalServerError {
			return fmt.Errorf("%w: %s", ErrRejected, remoteMessage([]byte(se.Body), se.Body))
		}
		return err
	}

	result := gjson.ParseBytes(body)
	status := result.Get("status").String()
	if status != "completed" && status != "accepted" {
		return fmt.Errorf("%w: status %q: %s", ErrRejected, status, remoteMessage(body, ""))
	}
	if ref := result.Get("reference").String(); ref != "" && ref != req.Reference {
		return fmt.Errorf("asset ledger answered for reference %s, sent %s", ref, req.Reference)
	}

	c.log.WithFields(map[string]interface{}{
		"reference": req.Reference,
		"from":      from,
		"to":        to,
		"amount":    amount,
		"transfer":  result.Get("transfer_id").String(),
	}).Debug("asset transfer completed")
	return nil
}

// BalanceOf queries the remote balance of holder.
func (c *Client) BalanceOf(ctx context.Context, holder string) (uint64, error) {
	resp, err := c.http.Get(ctx, "/v1/balances/"+url.PathEscape(holder))
	if err != nil {
		return 0, err
	}
	body, err := httputil.ReadBody(resp)
	if err != nil {
		return 0, err
	}
	balance := gjson.GetBytes(body, "balance")
	if !balance.Exists() {
		return 0, fmt.Errorf("balance missing from asset ledger response")
	}
	return balance.Uint(), nil
}

// Ping checks that the remote ledger is reachable.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.Get(ctx, "/health")
	if err != nil {
		return err
	}
	_, err = httputil.ReadBody(resp)
	return err
}

func remoteMessage(body []byte, fallback string) string {
	if !gjson.ValidBytes(body) {
		return fallback
	}
	for _, path := range []string{"error.message", "error", "message"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return fallback
}
