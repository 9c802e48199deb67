package barrier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type upper struct {
	Value string `json:"value"`
}

func toUpper(_ context.Context, in string) (upper, error) {
	return upper{Value: strings.ToUpper(in)}, nil
}

func TestProcessSuccessWritesRawAndNormalized(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryKV()
	b := New(store, "run-1", "msg-1@example.it")

	out, err := Process(ctx, b, "llm_triage", "ciao", toUpper,
		func(upper) Outcome { return Outcome{Valid: true} },
		nil,
	)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Value != "CIAO" {
		t.Errorf("normalized output = %+v", out)
	}

	var raw, normalized upper
	if err := b.GetRaw(ctx, "llm_triage", &raw); err != nil {
		t.Fatalf("GetRaw: %v", err)
	}
	if err := b.GetNormalized(ctx, "llm_triage", &normalized); err != nil {
		t.Fatalf("GetNormalized: %v", err)
	}
	if raw != out || normalized != out {
		t.Errorf("raw = %+v, normalized = %+v, want both persisted", raw, normalized)
	}
	if err := b.GetError(ctx, "llm_triage", &map[string]any{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("error record must not exist on success, got %v", err)
	}
}

func TestProcessRejectionBlocksNormalized(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryKV()
	b := New(store, "run-1", "msg-1@example.it")

	_, err := Process(ctx, b, "llm_triage", "ciao", toUpper,
		func(upper) Outcome {
			return Outcome{Valid: false, Errors: []string{"Invented candidateid: INVENTED_999"}}
		},
		nil,
	)

	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("err = %v, want *BlockedError", err)
	}
	if blocked.Layer != "llm_triage" || len(blocked.Errors) != 1 {
		t.Errorf("blocked = %+v", blocked)
	}

	// Raw and error records exist; the normalized key must never be written.
	var raw upper
	if err := b.GetRaw(ctx, "llm_triage", &raw); err != nil {
		t.Errorf("GetRaw after rejection: %v", err)
	}
	var record map[string]any
	if err := b.GetError(ctx, "llm_triage", &record); err != nil {
		t.Fatalf("GetError: %v", err)
	}
	if record["layer"] != "llm_triage" || record["message_id"] != "msg-1@example.it" || record["run_id"] != "run-1" {
		t.Errorf("error record = %v", record)
	}
	if err := b.GetNormalized(ctx, "llm_triage", &upper{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("normalized key written after rejection: %v", err)
	}
}

func TestProcessLayerErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryKV()
	b := New(store, "run-1", "msg-1")

	_, err := Process(ctx, b, "llm_triage", "ciao",
		func(context.Context, string) (upper, error) {
			return upper{}, errors.New("upstream timeout")
		},
		func(upper) Outcome { return Outcome{Valid: true} },
		nil,
	)
	if err == nil || !strings.Contains(err.Error(), "upstream timeout") {
		t.Fatalf("err = %v, want wrapped layer error", err)
	}
	if store.Len() != 0 {
		t.Errorf("store has %d keys, want none after layer failure", store.Len())
	}
}

func TestProcessNormalizer(t *testing.T) {
	ctx := context.Background()
	b := New(NewMemoryKV(), "run-1", "msg-1")

	out, err := Process(ctx, b, "postprocessing", "ciao", toUpper,
		func(upper) Outcome { return Outcome{Valid: true} },
		func(u upper) (upper, error) { return upper{Value: u.Value + "!"}, nil },
	)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Value != "CIAO!" {
		t.Errorf("out = %+v, want normalizer applied", out)
	}
	var normalized upper
	if err := b.GetNormalized(ctx, "postprocessing", &normalized); err != nil {
		t.Fatalf("GetNormalized: %v", err)
	}
	if normalized != out {
		t.Errorf("persisted %+v, returned %+v", normalized, out)
	}
}

func TestSanitizeMessageID(t *testing.T) {
	if got := SanitizeMessageID("clean-id.01@example.it"); got != "clean-id.01@example.it" {
		t.Errorf("clean id altered: %q", got)
	}

	a := SanitizeMessageID("<a b>")
	b := SanitizeMessageID("<a/b>")
	if a == b {
		t.Errorf("distinct ids collide after sanitization: %q", a)
	}
	for _, s := range []string{a, b} {
		if strings.ContainsAny(s, "</> ") {
			t.Errorf("sanitized id %q still carries unsafe characters", s)
		}
	}
	if !strings.Contains(a, "-") || len(a) <= len("_a_b_") {
		t.Errorf("altered id %q should carry a disambiguating hash suffix", a)
	}
}

func TestMemoryKVTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryKV()
	current := time.Unix(1000, 0)
	store.now = func() time.Time { return current }

	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "k"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	current = current.Add(2 * time.Minute)
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after expiry = %v, want ErrNotFound", err)
	}

	// ttl zero means no expiry.
	if err := store.Set(ctx, "eternal", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	current = current.Add(1000 * time.Hour)
	if _, err := store.Get(ctx, "eternal"); err != nil {
		t.Errorf("zero-ttl key expired: %v", err)
	}
}

func TestNullKV(t *testing.T) {
	ctx := context.Background()
	var kv NullKV
	if err := kv.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := kv.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("NullKV.Get = %v, want ErrNotFound", err)
	}
}
