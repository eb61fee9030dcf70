package caller

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
)

// Keys under which volume and history are persisted.
const (
	KeyVolume  = "queueVolume"
	KeyHistory = "callHistory"
)

const DefaultVolume = 0.7

// MaxHistory bounds the call log whatever limit is configured.
const MaxHistory = 50

// Storage is the persisted string-keyed state.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Entry records one announcement.
type Entry struct {
	Timestamp   string `json:"timestamp"`
	QueueNumber string `json:"queueNumber"`
	Operator    string `json:"operator"`
}

// History keeps the newest entries first, at most limit of them.
type History struct {
	entries []Entry
	limit   int
}

func NewHistory(limit int, entries []Entry) *History {
	if limit <= 0 || limit > MaxHistory {
		limit = MaxHistory
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return &History{entries: append([]Entry(nil), entries...), limit: limit}
}

// Push prepends e and evicts the oldest entries past the limit.
func (h *History) Push(e Entry) {
	h.entries = append([]Entry{e}, h.entries...)
	if len(h.entries) > h.limit {
		h.entries = h.entries[:h.limit]
	}
}

func (h *History) Clear() { h.entries = nil }

func (h *History) Len() int { return len(h.entries) }

// Entries returns a copy, newest first.
func (h *History) Entries() []Entry {
	return append([]Entry{}, h.entries...)
}

func (h *History) marshal() (string, error) {
	b, err := json.Marshal(h.Entries())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// loadHistory treats missing or corrupt data as an empty log.
func loadHistory(ctx context.Context, st Storage, limit int) ([]Entry, error) {
	raw, ok, err := st.Get(ctx, KeyHistory)
	if err != nil || !ok {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, nil
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// loadVolume falls back to DefaultVolume for missing, invalid or zero values.
func loadVolume(ctx context.Context, st Storage) (float64, error) {
	raw, ok, err := st.Get(ctx, KeyVolume)
	if err != nil || !ok {
		return DefaultVolume, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v == 0 || math.IsNaN(v) {
		return DefaultVolume, nil
	}
	return clamp01(v), nil
}

func formatVolume(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
