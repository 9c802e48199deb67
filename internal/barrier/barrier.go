// Package barrier implements the dual-payload write barrier that gates what
// the rest of the system may read.
//
// Every gated layer persists two payloads: the raw output exactly as the
// layer produced it (audit trail), and the normalized output written only
// after validation passes. A rejected layer leaves an error record and no
// normalized payload, so downstream consumers can never observe invalid data.
package barrier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/inboxlab/triage/internal/metrics"
)

// DefaultTTL is how long pipeline run keys live.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned by KV.Get for missing or expired keys.
var ErrNotFound = errors.New("key not found")

// KV is the narrow store surface the barrier needs. A ttl of zero means no
// expiry.
type KV interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// Outcome is the result of a layer validator.
type Outcome struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// BlockedError is returned when a layer validator rejects the output and the
// barrier blocks propagation.
type BlockedError struct {
	Layer  string
	Errors []string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("validation failed at layer '%s': %v", e.Layer, e.Errors)
}

// Barrier binds a store to one pipeline run and message.
type Barrier struct {
	Store     KV
	RunID     string
	MessageID string
	TTL       time.Duration
	Logger    *slog.Logger
	Metrics   metrics.Metrics
}

// New returns a barrier with the default TTL, a no-op metrics sink, and the
// default logger.
func New(store KV, runID, messageID string) *Barrier {
	return &Barrier{
		Store:     store,
		RunID:     runID,
		MessageID: messageID,
		TTL:       DefaultTTL,
		Logger:    slog.Default(),
		Metrics:   metrics.Nop{},
	}
}

// Process executes one gated layer:
//
//  1. layerFn(input) → output; an execution error aborts before any write
//  2. persist raw output (best effort — a store failure is logged, never fatal)
//  3. validatorFn(output); on rejection persist the error record, count the
//     block, and return *BlockedError — the normalized key is never written
//  4. normalizerFn(output) when non-nil, identity otherwise
//  5. persist normalized output and return it
//
// Only the normalized value ever reaches the caller.
func Process[I, O any](
	ctx context.Context,
	b *Barrier,
	layer string,
	input I,
	layerFn func(context.Context, I) (O, error),
	validatorFn func(O) Outcome,
	normalizerFn func(O) (O, error),
) (O, error) {
	var zero O

	output, err := layerFn(ctx, input)
	if err != nil {
		return zero, fmt.Errorf("layer %s: %w", layer, err)
	}

	b.persist(ctx, b.key(layer, "raw"), output)

	outcome := validatorFn(output)
	if !outcome.Valid {
		b.persist(ctx, b.key(layer, "error"), map[string]any{
			"layer":      layer,
			"message_id": b.MessageID,
			"run_id":     b.RunID,
			"errors":     outcome.Errors,
			"warnings":   outcome.Warnings,
		})
		b.Metrics.IncrementCounter(metrics.BarrierBlocksTotal, map[string]string{"layer": layer})
		b.Logger.Error("write barrier blocked layer", "layer", layer, "errors", outcome.Errors)
		return zero, &BlockedError{Layer: layer, Errors: outcome.Errors}
	}

	normalized := output
	if normalizerFn != nil {
		normalized, err = normalizerFn(output)
		if err != nil {
			return zero, fmt.Errorf("layer %s normalize: %w", layer, err)
		}
	}

	b.persist(ctx, b.key(layer, "normalized"), normalized)
	b.Logger.Info("write barrier passed layer", "layer", layer, "warnings", len(outcome.Warnings))
	return normalized, nil
}

// GetRaw loads a layer's raw payload into out.
func (b *Barrier) GetRaw(ctx context.Context, layer string, out any) error {
	return b.load(ctx, b.key(layer, "raw"), out)
}

// GetNormalized loads a layer's normalized payload into out.
func (b *Barrier) GetNormalized(ctx context.Context, layer string, out any) error {
	return b.load(ctx, b.key(layer, "normalized"), out)
}

// GetError loads a layer's error record into out.
func (b *Barrier) GetError(ctx context.Context, layer string, out any) error {
	return b.load(ctx, b.key(layer, "error"), out)
}

func (b *Barrier) key(layer, suffix string) string {
	return fmt.Sprintf("run:%s:msg:%s:layer:%s:%s", b.RunID, SanitizeMessageID(b.MessageID), layer, suffix)
}

func (b *Barrier) persist(ctx context.Context, key string, payload any) {
	buf, err := json.Marshal(payload)
	if err != nil {
		b.Logger.Warn("write barrier marshal failed", "key", key, "error", err)
		return
	}
	if err := b.Store.Set(ctx, key, buf, b.TTL); err != nil {
		b.Logger.Warn("write barrier persist failed", "key", key, "error", err)
	}
}

func (b *Barrier) load(ctx context.Context, key string, out any) error {
	buf, err := b.Store.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, out)
}

// SanitizeMessageID makes a message id safe for key namespacing. Characters
// outside [A-Za-z0-9.@_-] are replaced with '_'; when anything was replaced a
// short hash of the original is appended so distinct ids can never collide
// after sanitization.
func SanitizeMessageID(id string) string {
	var sb strings.Builder
	altered := false
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '@', c == '_', c == '-':
			sb.WriteByte(c)
		default:
			sb.WriteByte('_')
			altered = true
		}
	}
	if !altered {
		return sb.String()
	}
	sum := sha256.Sum256([]byte(id))
	return sb.String() + "-" + hex.EncodeToString(sum[:4])
}
