package automation

import "sync"

// DefaultHistoryCapacity is the number of entries kept in memory.
const DefaultHistoryCapacity = 1000

// historyLog is a fixed-capacity ring of execution entries shared by all
// rules. When full, the oldest entry is evicted.
type historyLog struct {
	mu      sync.Mutex
	entries []HistoryEntry
	start   int
	size    int
}

func newHistoryLog(capacity int) *historyLog {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &historyLog{entries: make([]HistoryEntry, capacity)}
}

func (h *historyLog) append(e HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	capacity := len(h.entries)
	if h.size < capacity {
		h.entries[(h.start+h.size)%capacity] = e
		h.size++
		return
	}
	h.entries[h.start] = e
	h.start = (h.start + 1) % capacity
}

// recent returns up to limit entries for ruleID, newest first.
// An empty ruleID matches every rule; limit <= 0 means no limit.
func (h *historyLog) recent(ruleID string, limit int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]HistoryEntry, 0)
	capacity := len(h.entries)
	for i := h.size - 1; i >= 0; i-- {
		e := h.entries[(h.start+i)%capacity]
		if ruleID != "" && e.RuleID != ruleID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (h *historyLog) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// remove drops every entry for ruleID, keeping the order of the rest.
func (h *historyLog) remove(ruleID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	capacity := len(h.entries)
	kept := make([]HistoryEntry, 0, h.size)
	for i := 0; i < h.size; i++ {
		e := h.entries[(h.start+i)%capacity]
		if e.RuleID != ruleID {
			kept = append(kept, e)
		}
	}
	h.entries = make([]HistoryEntry, capacity)
	copy(h.entries, kept)
	h.start = 0
	h.size = len(kept)
}
