// Package auth obtains and caches the short-lived approval keys required to
// open upstream market-data websocket connections. The approval key is
// distinct from the REST bearer token and is valid for a fixed vendor window.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrExchangeFailed is returned when the upstream approval exchange fails or
// the response carries no approval key. Callers must treat it as
// service-unavailable for the affected key, never as an empty token.
var ErrExchangeFailed = errors.New("approval exchange failed")

// Token is a cached approval key for one app key.
type Token struct {
	KeyID     string
	Value     string
	ExpiresAt time.Time
}

// Config holds exchange endpoint and expiry policy.
type Config struct {
	// ApprovalURL is the upstream OAuth approval endpoint.
	ApprovalURL string

	// RefreshMargin is how close to expiry a token may get before it is
	// refreshed. A caller never receives a token inside this margin.
	RefreshMargin time.Duration

	// Validity is the vendor's fixed token validity window.
	Validity time.Duration
}

// Cache exchanges credentials for approval keys and caches them per key ID.
// Tokens are refreshed proactively before expiry and live for the process
// lifetime. Safe for concurrent use; refreshes for the same key ID are
// serialized, different key IDs proceed independently.
type Cache struct {
	cfg    Config
	client *http.Client
	logger *logrus.Logger

	mu      sync.Mutex
	entries map[string]*entry

	// now is swappable for tests.
	now func() time.Time
}

type entry struct {
	mu    sync.Mutex
	token Token
}

// NewCache creates a Cache. A nil httpClient falls back to a default client
// with a 10s timeout.
func NewCache(cfg Config, httpClient *http.Client, logger *logrus.Logger) *Cache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.RefreshMargin == 0 {
		cfg.RefreshMargin = time.Hour
	}
	if cfg.Validity == 0 {
		cfg.Validity = 24 * time.Hour
	}
	return &Cache{
		cfg:     cfg,
		client:  httpClient,
		logger:  logger,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Approval returns a fresh approval token for the key pair, exchanging
// credentials upstream when no token is cached or the cached one is within
// the refresh margin of its expiry.
func (c *Cache) Approval(ctx context.Context, keyID, secret string) (Token, error) {
	e := c.entryFor(keyID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.token.Value != "" && e.token.ExpiresAt.Sub(c.now()) >= c.cfg.RefreshMargin {
		return e.token, nil
	}

	value, err := c.exchange(ctx, keyID, secret)
	if err != nil {
		return Token{}, err
	}

	e.token = Token{
		KeyID:     keyID,
		Value:     value,
		ExpiresAt: c.now().Add(c.cfg.Validity),
	}
	c.logger.WithField("key_id", keyID).Info("Approval key refreshed")
	return e.token, nil
}

// entryFor returns the per-key entry, creating it on first use.
func (c *Cache) entryFor(keyID string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[keyID]
	if !ok {
		e = &entry{}
		c.entries[keyID] = e
	}
	return e
}

type approvalRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	SecretKey string `json:"secretkey"`
}

type approvalResponse struct {
	ApprovalKey string `json:"approval_key"`
}

// exchange performs the blocking credential exchange against the upstream
// auth endpoint.
func (c *Cache) exchange(ctx context.Context, keyID, secret string) (string, error) {
	body, err := json.Marshal(approvalRequest{
		GrantType: "client_credentials",
		AppKey:    keyID,
		SecretKey: secret,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrExchangeFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ApprovalURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrExchangeFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrExchangeFailed, resp.StatusCode)
	}

	var parsed approvalResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrExchangeFailed, err)
	}
	if parsed.ApprovalKey == "" {
		return "", fmt.Errorf("%w: response carried no approval_key", ErrExchangeFailed)
	}

	return parsed.ApprovalKey, nil
}
