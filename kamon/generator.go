// Copyright 2018 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package kamon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// errorPrefix is how the generation and pinning services mark a failed
// response body instead of using a status code.
const errorPrefix = "Error"

// maxResponseSize bounds how much of a collaborator response is read.
const maxResponseSize = 1 << 20

// GeneratorConfig configures the HTTP metadata generator client.
type GeneratorConfig struct {
	URL     string
	Timeout time.Duration

	// RateLimit is the sustained request rate per second; zero disables limiting.
	RateLimit float64
	Burst     int

	// BreakerFailures consecutive transport failures open the breaker for
	// BreakerCooldown. Zero disables the breaker.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// HTTPGenerator posts sync payloads to the metadata generation service. It
// never retries: a request may render and pin a new artifact server-side.
type HTTPGenerator struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

var _ MetadataGenerator = (*HTTPGenerator)(nil)

// NewHTTPGenerator creates a generator client.
func NewHTTPGenerator(cfg GeneratorConfig) (*HTTPGenerator, error) {
	if cfg.URL == "" {
		return nil, errors.New("kamon: generator URL not configured")
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	g := &HTTPGenerator{
		url:     cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
	if cfg.BreakerFailures > 0 {
		failures := cfg.BreakerFailures
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "metadata-generator",
			Timeout: cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			// A service that answered with an error is up.
			IsSuccessful: func(err error) bool {
				return err == nil || KindOf(err) == KindApplication
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("Circuit breaker state change", "name", name, "from", from, "to", to)
			},
		})
	}
	return g, nil
}

// Generate implements MetadataGenerator.
func (g *HTTPGenerator) Generate(ctx context.Context, payload SyncRequestPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", transientError("generate", err)
	}
	if g.breaker == nil {
		return g.post(ctx, body)
	}
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.post(ctx, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", transientError("generate", err)
		}
		return "", err
	}
	return res.(string), nil
}

func (g *HTTPGenerator) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", transientError("generate", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", transientError("generate", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", transientError("generate", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if msg := strings.TrimSpace(string(data)); strings.HasPrefix(msg, errorPrefix) {
			return "", applicationError("generate", errors.New(msg))
		}
		return "", transientError("generate", fmt.Errorf("status %d", resp.StatusCode))
	}
	return parseGenerateResponse(data)
}

// parseGenerateResponse extracts the new token URI from a generator answer.
// The service replies either {"tokenUri": ...} or a bare string; failures
// are strings starting with "Error", in the URI or in an "error" field.
func parseGenerateResponse(data []byte) (string, error) {
	data = bytes.TrimSpace(data)

	var text string
	switch {
	case len(data) > 0 && data[0] == '{':
		var resp struct {
			TokenURI string `json:"tokenUri"`
			Error    string `json:"error"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return "", applicationError("generate", fmt.Errorf("malformed response: %v", err))
		}
		if resp.Error != "" {
			return "", applicationError("generate", errors.New(resp.Error))
		}
		text = resp.TokenURI
	case len(data) > 0 && data[0] == '"':
		if err := json.Unmarshal(data, &text); err != nil {
			return "", applicationError("generate", fmt.Errorf("malformed response: %v", err))
		}
	default:
		text = string(data)
	}
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, errorPrefix) {
		return "", applicationError("generate", errors.New(text))
	}
	if text == "" {
		return "", applicationError("generate", errors.New("empty token URI"))
	}
	return text, nil
}
