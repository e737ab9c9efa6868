// Package gateway talks to the Hyperliquid public API: the /info REST
// endpoint for account and market state, and the WebSocket feed for
// live trade prints.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultRESTEndpoint = "https://api.hyperliquid.xyz/info"
	DefaultWSEndpoint   = "wss://api.hyperliquid.xyz/ws"
)

// RESTConfig configures the /info client. Zero values fall back to the
// public-endpoint defaults.
type RESTConfig struct {
	BaseURL        string
	MaxRequestsSec float64       // rate limit, default 10
	Burst          int           // limiter burst, default 5
	Retries        int           // attempts per request, default 3
	RetryBackoff   time.Duration // initial backoff, doubles per retry, default 500ms
	RequestTimeout time.Duration // per-attempt timeout, default 15s
}

// RESTClient posts typed payloads to /info. All requests share one rate
// limiter so the pollers cannot collectively trip the exchange limits.
// HTTPClient is injectable for tests.
type RESTClient struct {
	cfg        RESTConfig
	limiter    *rate.Limiter
	HTTPClient *http.Client
}

// NewRESTClient builds a client with defaults filled in.
func NewRESTClient(cfg RESTConfig) *RESTClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultRESTEndpoint
	}
	if cfg.MaxRequestsSec <= 0 {
		cfg.MaxRequestsSec = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	return &RESTClient{
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.MaxRequestsSec), cfg.Burst),
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// post sends one /info payload and decodes the JSON response into out.
// 429 and 5xx responses are retried with doubling backoff; 4xx other
// than 429 fail immediately.
func (c *RESTClient) post(ctx context.Context, payload interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	backoff := c.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt < c.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		lastErr = c.doOnce(ctx, body, out)
		if lastErr == nil {
			return nil
		}
		var re *retryableError
		if !errors.As(lastErr, &re) {
			return lastErr
		}
	}
	return fmt.Errorf("info request failed after %d attempts: %w", c.cfg.Retries, lastErr)
}

// retryableError marks transport failures and throttle/server statuses.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (c *RESTClient) doOnce(ctx context.Context, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &retryableError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return &retryableError{err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// AllMids returns the current mid price per coin.
func (c *RESTClient) AllMids(ctx context.Context) (map[string]float64, error) {
	var raw map[string]stringFloat
	if err := c.post(ctx, map[string]string{"type": "allMids"}, &raw); err != nil {
		return nil, err
	}
	mids := make(map[string]float64, len(raw))
	for coin, px := range raw {
		mids[coin] = float64(px)
	}
	return mids, nil
}

// ClearinghouseState returns one account's margin and position state.
func (c *RESTClient) ClearinghouseState(ctx context.Context, user string) (ClearinghouseState, error) {
	var state ClearinghouseState
	payload := map[string]string{"type": "clearinghouseState", "user": user}
	if err := c.post(ctx, payload, &state); err != nil {
		return ClearinghouseState{}, err
	}
	return state, nil
}

// MetaAndAssetCtxs returns the perp universe with its parallel list of
// per-asset contexts (funding, open interest, mark price).
func (c *RESTClient) MetaAndAssetCtxs(ctx context.Context) (Meta, []AssetCtx, error) {
	var raw []json.RawMessage
	if err := c.post(ctx, map[string]string{"type": "metaAndAssetCtxs"}, &raw); err != nil {
		return Meta{}, nil, err
	}
	if len(raw) < 2 {
		return Meta{}, nil, fmt.Errorf("metaAndAssetCtxs: expected [meta, ctxs], got %d elements", len(raw))
	}
	var meta Meta
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return Meta{}, nil, fmt.Errorf("decode meta: %w", err)
	}
	var ctxs []AssetCtx
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return Meta{}, nil, fmt.Errorf("decode asset ctxs: %w", err)
	}
	return meta, ctxs, nil
}

// VaultDetails returns a vault's public summary.
func (c *RESTClient) VaultDetails(ctx context.Context, vault string) (VaultDetails, error) {
	var details VaultDetails
	payload := map[string]string{"type": "vaultDetails", "vaultAddress": vault}
	if err := c.post(ctx, payload, &details); err != nil {
		return VaultDetails{}, err
	}
	return details, nil
}

// FundingHistory returns historical funding samples for one coin in
// [startTime, endTime], both in epoch milliseconds.
func (c *RESTClient) FundingHistory(ctx context.Context, coin string, startTime, endTime int64) ([]FundingSample, error) {
	payload := map[string]interface{}{
		"type":      "fundingHistory",
		"coin":      coin,
		"startTime": startTime,
		"endTime":   endTime,
	}
	var samples []FundingSample
	if err := c.post(ctx, payload, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}
