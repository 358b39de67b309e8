package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"time"

	"rasp/internal/features"

	"github.com/google/uuid"
)

// Bare NaN/Infinity tokens written by the old JSON-file backend. Go's regexp has
// no lookbehind, so the delimiters are captured and written back.
var nonFiniteToken = regexp.MustCompile(`([:\s,\[{])(-Infinity|Infinity|NaN)([\s,\]}])`)

var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

type legacyEntry struct {
	Input      features.RawRecord         `json:"input"`
	Processed  map[string]json.RawMessage `json:"processed"`
	Prediction *float64                   `json:"prediction"`
	Timestamp  string                     `json:"timestamp"`
}

// SanitizeLegacyJSON replaces unquoted NaN and Infinity literals with null.
func SanitizeLegacyJSON(raw []byte) []byte {
	out := raw
	for {
		next := nonFiniteToken.ReplaceAll(out, []byte("${1}null${3}"))
		if string(next) == string(out) {
			return next
		}
		out = next
	}
}

// ParseLegacyHistory reads a history.json array produced by the previous
// file-based server. Processed maps may be flat or in the per-row form
// {"feature": {"0": value}}. Timestamps without a zone are read as local time.
// Each entry gets a fresh id.
func ParseLegacyHistory(r io.Reader) ([]HistoryEntry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read legacy history: %w", err)
	}

	var legacy []legacyEntry
	if err := json.Unmarshal(SanitizeLegacyJSON(raw), &legacy); err != nil {
		return nil, fmt.Errorf("parse legacy history: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(legacy))
	for i, le := range legacy {
		entry, err := convertLegacy(le)
		if err != nil {
			return nil, fmt.Errorf("legacy entry %d: %w", i, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ImportLegacyHistory appends the entries of a legacy history.json in file
// order, in one transaction. Nothing is written unless the whole file parses
// and stores. It returns the number of entries imported.
func (s *Store) ImportLegacyHistory(r io.Reader) (int, error) {
	entries, err := ParseLegacyHistory(r)
	if err != nil {
		return 0, err
	}

	if err := s.AppendHistoryBatch(entries); err != nil {
		return 0, fmt.Errorf("import legacy history: %w", err)
	}
	return len(entries), nil
}

func convertLegacy(le legacyEntry) (HistoryEntry, error) {
	if le.Prediction == nil {
		return HistoryEntry{}, fmt.Errorf("missing prediction")
	}

	ts, err := parseLegacyTime(le.Timestamp)
	if err != nil {
		return HistoryEntry{}, err
	}

	processed := make(features.Snapshot, len(le.Processed))
	for name, msg := range le.Processed {
		v, err := flattenLegacyValue(msg)
		if err != nil {
			return HistoryEntry{}, fmt.Errorf("processed %s: %w", name, err)
		}
		processed[name] = v
	}

	return HistoryEntry{
		ID:         uuid.NewString(),
		Input:      le.Input,
		Processed:  processed,
		Prediction: *le.Prediction,
		Timestamp:  ts,
	}, nil
}

// flattenLegacyValue accepts a number, null, or a single-row object of either.
func flattenLegacyValue(msg json.RawMessage) (*float64, error) {
	var v *float64
	if err := json.Unmarshal(msg, &v); err == nil {
		return v, nil
	}

	var row map[string]*float64
	if err := json.Unmarshal(msg, &row); err != nil {
		return nil, err
	}
	if v, ok := row["0"]; ok {
		return v, nil
	}
	for _, v := range row {
		return v, nil
	}
	return nil, nil
}

func parseLegacyTime(s string) (time.Time, error) {
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
