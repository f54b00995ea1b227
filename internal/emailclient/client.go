// Package emailclient implements the single outbound operation in
// spec §4.7: sendEmail(to, subject, body, idempotencyKey) against the
// external email provider's HTTP contract (§6), wrapped by the Rate
// Limiter and the Token Manager.
package emailclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/mailblast/internal/logger"
	"github.com/baechuer/mailblast/internal/ratelimiter"
	"github.com/baechuer/mailblast/internal/retrypolicy"
	"github.com/baechuer/mailblast/internal/token"
)

// Result is the outcome of a single send attempt.
type Result struct {
	Success   bool
	MessageID string
	Status    int
	HasStatus bool
	Err       error
}

// Client sends one email per call through the shared rate limiter and
// token manager.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *ratelimiter.Limiter
	tokens  *token.Manager
	log     zerolog.Logger
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Limiter *ratelimiter.Limiter
	Tokens  *token.Manager
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		limiter: cfg.Limiter,
		tokens:  cfg.Tokens,
		log:     logger.Named("email_client"),
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// sendResponse mirrors §4.7: message id is parsed from one of
// message_id, messageId, id, or synthesized as "status:<status>".
type sendResponse struct {
	MessageID  string `json:"message_id"`
	MessageID2 string `json:"messageId"`
	ID         string `json:"id"`
	Status     string `json:"status"`
}

// SendEmail runs the send through the rate limiter (priority 0 — all
// sends are equal priority in this system) and returns a classified
// Result. Network/transport errors are folded into Result rather than
// returned as a Go error so callers always see a uniform outcome to
// pass to the retry policy.
func (c *Client) SendEmail(ctx context.Context, to, subject, body, idempotencyKey string) Result {
	res, err := ratelimiter.Schedule(ctx, c.limiter, 0, func(ctx context.Context) (Result, error) {
		return c.send(ctx, to, subject, body, idempotencyKey, true), nil
	})
	if err != nil {
		return Result{Err: err}
	}
	return res
}

func (c *Client) send(ctx context.Context, to, subject, body, idempotencyKey string, allowAuthRetry bool) Result {
	tok, err := c.tokens.GetToken(ctx)
	if err != nil {
		return Result{Err: fmt.Errorf("emailclient: fetch token: %w", err)}
	}

	reqBody, err := json.Marshal(sendRequest{To: to, Subject: subject, Body: body})
	if err != nil {
		return Result{Err: fmt.Errorf("emailclient: marshal request: %w", err)}
	}

	url := c.baseURL + "/send-email"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return Result{Err: fmt.Errorf("emailclient: build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Msg("send-email request failed")
		return Result{Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusUnauthorized && allowAuthRetry {
		c.log.Warn().Msg("provider returned 401; invalidating token and retrying once")
		if _, err := c.tokens.InvalidateAndRenew(ctx); err != nil {
			return Result{Status: resp.StatusCode, HasStatus: true, Err: fmt.Errorf("emailclient: renew after 401: %w", err)}
		}
		return c.send(ctx, to, subject, body, idempotencyKey, false)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Info().Int("status", resp.StatusCode).Time("at", time.Now()).Msg("send-email non-2xx response")
		return Result{Status: resp.StatusCode, HasStatus: true, Err: fmt.Errorf("emailclient: provider returned status %d", resp.StatusCode)}
	}

	var sr sendResponse
	_ = json.Unmarshal(raw, &sr)

	messageID := firstNonEmpty(sr.MessageID, sr.MessageID2, sr.ID)
	if messageID == "" {
		if sr.Status != "" {
			messageID = "status:" + sr.Status
		} else {
			messageID = fmt.Sprintf("status:%d", resp.StatusCode)
		}
	}

	c.log.Info().Str("message_id", messageID).Int("status", resp.StatusCode).Time("at", time.Now()).Msg("send-email succeeded")
	return Result{Success: true, MessageID: messageID, Status: resp.StatusCode, HasStatus: true}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Classification exposes retrypolicy.ClassifyStatus for callers that
// only have a Result, saving them from importing retrypolicy just for
// this mapping.
func (r Result) Classification() retrypolicy.Classification {
	return retrypolicy.ClassifyStatus(r.Status, r.HasStatus)
}
