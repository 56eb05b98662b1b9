// Package client calls the downstream match analysis endpoint with rate
// limiting and retried requests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/winmix/engine/models"
)

// Options holds options for creating a new Client.
type Options struct {
	Endpoint        string
	Token           string
	Timeout         time.Duration
	RequestsPerSec  int
	MaxRetryTimeout time.Duration
}

// Client posts analysis requests for individual matches.
type Client struct {
	endpoint        string
	token           string
	httpClient      *http.Client
	limiter         *rate.Limiter
	maxRetryTimeout time.Duration
	log             zerolog.Logger
}

// New creates a new analysis client with rate limiting.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 5
	}
	if opts.MaxRetryTimeout == 0 {
		opts.MaxRetryTimeout = 30 * time.Second
	}

	return &Client{
		endpoint:        opts.Endpoint,
		token:           opts.Token,
		httpClient:      &http.Client{Timeout: opts.Timeout},
		limiter:         rate.NewLimiter(rate.Every(time.Second), opts.RequestsPerSec),
		maxRetryTimeout: opts.MaxRetryTimeout,
		log:             log.With().Str("component", "analyze_client").Logger(),
	}
}

// Analyze requests a prediction for one match. Transient failures are retried
// with exponential backoff; 4xx responses are permanent. Every failure mode
// surfaces as a DownstreamCallError so job runs can count it per match.
func (c *Client) Analyze(ctx context.Context, matchID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &models.DownstreamCallError{MatchID: matchID, Err: err}
	}

	payload, err := json.Marshal(map[string]string{"match_id": matchID})
	if err != nil {
		return &models.DownstreamCallError{MatchID: matchID, Err: err}
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		statusErr := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(&models.DownstreamCallError{MatchID: matchID, StatusCode: resp.StatusCode, Err: statusErr})
		}
		return &models.DownstreamCallError{MatchID: matchID, StatusCode: resp.StatusCode, Err: statusErr}
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.MaxElapsedTime = c.maxRetryTimeout

	if err := backoff.Retry(operation, backoff.WithContext(strategy, ctx)); err != nil {
		var downstream *models.DownstreamCallError
		if errors.As(err, &downstream) {
			return downstream
		}
		return &models.DownstreamCallError{MatchID: matchID, Err: err}
	}

	c.log.Debug().Str("match_id", matchID).Msg("analysis requested")
	return nil
}
