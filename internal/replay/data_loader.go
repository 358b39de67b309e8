package replay

import (
	"fmt"
	"os"
	"time"

	"rasp/internal/storage"

	"github.com/rs/zerolog/log"
)

// DataLoader holds the history entries to replay, oldest first.
type DataLoader struct {
	entries   []storage.HistoryEntry
	index     int
	StartTime time.Time
	EndTime   time.Time
}

// NewDataLoader creates an empty loader.
func NewDataLoader() *DataLoader {
	return &DataLoader{}
}

// LoadFromStore loads the entries of a history store whose timestamps fall in
// [start, end]. Zero bounds are open.
func (dl *DataLoader) LoadFromStore(store *storage.Store, start, end time.Time) error {
	entries, err := store.History()
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	dl.add(entries, start, end)

	log.Info().
		Str("path", store.Path()).
		Int("entries", len(dl.entries)).
		Msg("Loaded history from store")
	return nil
}

// LoadFromLegacyJSON loads a legacy history.json file.
func (dl *DataLoader) LoadFromLegacyJSON(path string, start, end time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	entries, err := storage.ParseLegacyHistory(f)
	if err != nil {
		return err
	}
	dl.add(entries, start, end)

	log.Info().
		Str("path", path).
		Int("entries", len(dl.entries)).
		Msg("Loaded legacy history")
	return nil
}

func (dl *DataLoader) add(entries []storage.HistoryEntry, start, end time.Time) {
	for _, e := range entries {
		if !start.IsZero() && e.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && e.Timestamp.After(end) {
			continue
		}
		if dl.StartTime.IsZero() || e.Timestamp.Before(dl.StartTime) {
			dl.StartTime = e.Timestamp
		}
		if e.Timestamp.After(dl.EndTime) {
			dl.EndTime = e.Timestamp
		}
		dl.entries = append(dl.entries, e)
	}
}

// Reset rewinds to the first entry.
func (dl *DataLoader) Reset() {
	dl.index = 0
}

// HasNext reports whether entries remain.
func (dl *DataLoader) HasNext() bool {
	return dl.index < len(dl.entries)
}

// Next returns the next entry.
func (dl *DataLoader) Next() storage.HistoryEntry {
	e := dl.entries[dl.index]
	dl.index++
	return e
}

// Count returns the number of loaded entries.
func (dl *DataLoader) Count() int {
	return len(dl.entries)
}
