// Package ner provides named-entity recognition via an external HTTP model
// service.
//
// The service is treated as a black box behind entities.Adapter: the engine
// never knows which model runs behind the endpoint, and an unreachable or
// failing service degrades to an empty contribution upstream.
package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/inboxlab/triage/internal/entities"
)

// Config holds NER service configuration.
type Config struct {
	Endpoint    string // full API URL
	Model       string // model name sent with each request
	APIKey      string
	MaxRetries  int // default: 3
	TimeoutSecs int // per-request timeout (default: 30)
}

// ResolveConfig builds a Config from the endpoint argument with TRIAGE_NER_*
// environment overrides. Returns nil when no endpoint is configured anywhere,
// which callers treat as "NER disabled".
func ResolveConfig(endpoint string) *Config {
	if endpoint == "" {
		endpoint = os.Getenv("TRIAGE_NER_ENDPOINT")
	}
	if endpoint == "" {
		return nil
	}
	cfg := &Config{
		Endpoint:    endpoint,
		Model:       os.Getenv("TRIAGE_NER_MODEL"),
		APIKey:      os.Getenv("TRIAGE_NER_API_KEY"),
		MaxRetries:  3,
		TimeoutSecs: 30,
	}
	if cfg.Model == "" {
		cfg.Model = "default"
	}
	return cfg
}

// Validate checks the configuration is complete.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.TimeoutSecs <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// HTTPError represents an HTTP error with retry context.
type HTTPError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

type extractRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

type extractResponse struct {
	Entities []struct {
		Text  string `json:"text"`
		Label string `json:"label"`
		Start int    `json:"start"`
		End   int    `json:"end"`
	} `json:"entities"`
}

// Client implements entities.Adapter against an HTTP NER service.
type Client struct {
	config Config
	http   *http.Client
}

var _ entities.Adapter = (*Client)(nil)

// NewClient creates a NER client with the given configuration.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{
		config: *config,
		http: &http.Client{
			Timeout: time.Duration(config.TimeoutSecs) * time.Second,
		},
	}, nil
}

// Extract sends the text to the NER service and maps the response to
// entities. Retries with exponential backoff, honoring Retry-After on 429.
func (c *Client) Extract(ctx context.Context, text string) ([]entities.Entity, error) {
	if text == "" {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		found, err := c.attemptExtract(ctx, text)
		if err == nil {
			return found, nil
		}
		lastErr = err

		if attempt == c.config.MaxRetries {
			break
		}

		backoff := time.Duration(1<<attempt) * time.Second
		if httpErr, ok := err.(*HTTPError); ok && httpErr.StatusCode == 429 && httpErr.RetryAfter > 0 {
			backoff = httpErr.RetryAfter
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("ner extraction failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) attemptExtract(ctx context.Context, text string) ([]entities.Entity, error) {
	requestBody, err := json.Marshal(extractRequest{Model: c.config.Model, Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != 200 {
		var retryAfter time.Duration
		if header := resp.Header.Get("Retry-After"); header != "" {
			if seconds, err := strconv.Atoi(header); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			RetryAfter: retryAfter,
		}
	}

	var parsed extractResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response JSON: %w", err)
	}

	found := make([]entities.Entity, 0, len(parsed.Entities))
	for _, e := range parsed.Entities {
		if e.Start < 0 || e.End > len(text) || e.Start >= e.End {
			continue
		}
		found = append(found, entities.Entity{
			Text:       e.Text,
			Label:      e.Label,
			Start:      e.Start,
			End:        e.End,
			Source:     entities.SourceNER,
			Confidence: entities.NERConfidence,
		})
	}
	return found, nil
}
