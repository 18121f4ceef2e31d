// Package match defines the normalization step applied to every raw
// provider record and ships the default shape-validating matchers.
package match

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ppiankov/mdspull/internal/provider"
)

// Config carries matcher settings for one ingestion.
type Config struct {
	Provider          string
	MaxTripDuration   time.Duration // 0 disables the check
	MaxTripDistance   float64       // meters, 0 disables the check
	AllowedEventTypes []string      // empty allows any event_type
}

// Graph is the spatial/temporal context a matcher resolves records
// against. The default matchers do not use it.
type Graph any

// Matcher normalizes a raw record. ok is false when the record is rejected;
// err is reserved for failures that must abort ingestion. Implementations
// must not modify raw.
type Matcher interface {
	Match(ctx context.Context, raw json.RawMessage, cfg Config, g Graph) (record any, ok bool, err error)
}

// Func adapts a function to Matcher.
type Func func(ctx context.Context, raw json.RawMessage, cfg Config, g Graph) (any, bool, error)

func (f Func) Match(ctx context.Context, raw json.RawMessage, cfg Config, g Graph) (any, bool, error) {
	return f(ctx, raw, cfg, g)
}

// Set holds the matcher used for each record kind.
type Set struct {
	Trips         Matcher
	StatusChanges Matcher
}

// Defaults returns the built-in validating matchers.
func Defaults() Set {
	return Set{Trips: TripMatcher{}, StatusChanges: ChangeMatcher{}}
}

// For returns the matcher for kind.
func (s Set) For(kind provider.Kind) (Matcher, error) {
	var m Matcher
	switch kind {
	case provider.Trips:
		m = s.Trips
	case provider.StatusChanges:
		m = s.StatusChanges
	}
	if m == nil {
		return nil, fmt.Errorf("no matcher for kind %q", kind)
	}
	return m, nil
}

// TripMatcher accepts trips with ids, a non-negative duration, and values
// within the configured limits. Timestamps are provider milliseconds.
type TripMatcher struct{}

func (TripMatcher) Match(_ context.Context, raw json.RawMessage, cfg Config, _ Graph) (any, bool, error) {
	rec, ok := decodeObject(raw)
	if !ok {
		return nil, false, nil
	}
	if !hasString(rec, "trip_id") || !hasString(rec, "device_id") {
		return nil, false, nil
	}

	start, ok1 := number(rec, "start_time")
	end, ok2 := number(rec, "end_time")
	if !ok1 || !ok2 || end < start {
		return nil, false, nil
	}
	if cfg.MaxTripDuration > 0 && end-start > float64(cfg.MaxTripDuration.Milliseconds()) {
		return nil, false, nil
	}
	if cfg.MaxTripDistance > 0 {
		if dist, ok := number(rec, "trip_distance"); ok && dist > cfg.MaxTripDistance {
			return nil, false, nil
		}
	}

	return normalize(rec, cfg), true, nil
}

// ChangeMatcher accepts status changes with a device, an event type, and an
// event time.
type ChangeMatcher struct{}

func (ChangeMatcher) Match(_ context.Context, raw json.RawMessage, cfg Config, _ Graph) (any, bool, error) {
	rec, ok := decodeObject(raw)
	if !ok {
		return nil, false, nil
	}
	if !hasString(rec, "device_id") || !hasString(rec, "event_type") {
		return nil, false, nil
	}
	if _, ok := number(rec, "event_time"); !ok {
		return nil, false, nil
	}
	if len(cfg.AllowedEventTypes) > 0 && !slices.Contains(cfg.AllowedEventTypes, rec["event_type"].(string)) {
		return nil, false, nil
	}

	return normalize(rec, cfg), true, nil
}

// decodeObject decodes raw into a fresh map, keeping numbers exact.
func decodeObject(raw json.RawMessage) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil || rec == nil {
		return nil, false
	}
	return rec, true
}

func normalize(rec map[string]any, cfg Config) map[string]any {
	if cfg.Provider != "" {
		rec["provider"] = cfg.Provider
	}
	return rec
}

func hasString(rec map[string]any, key string) bool {
	s, ok := rec[key].(string)
	return ok && strings.TrimSpace(s) != ""
}

func number(rec map[string]any, key string) (float64, bool) {
	n, ok := rec[key].(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	return f, true
}
