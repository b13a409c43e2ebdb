package realtime

// HistoryItem is one entry of the conversation history as reported by the
// runtime. Items are JSON-serializable on their own.
type HistoryItem struct {
	ItemID    string           `json:"item_id"`
	Type      string           `json:"type"`
	Role      string           `json:"role,omitempty"`
	Status    string           `json:"status,omitempty"`
	Content   []HistoryContent `json:"content,omitempty"`
	Name      string           `json:"name,omitempty"`
	Arguments string           `json:"arguments,omitempty"`
	Output    string           `json:"output,omitempty"`
}

// HistoryContent is one content part of a message item.
type HistoryContent struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// History is an ordered, append-or-replace list of items keyed by ItemID.
// It is not safe for concurrent use; each runtime session owns one.
type History struct {
	items []HistoryItem
	index map[string]int
}

// Upsert appends item, or replaces the existing item with the same ItemID.
// It reports whether the item was newly added.
func (h *History) Upsert(item HistoryItem) bool {
	if h.index == nil {
		h.index = make(map[string]int)
	}
	if i, ok := h.index[item.ItemID]; ok && item.ItemID != "" {
		h.items[i] = item
		return false
	}
	if item.ItemID != "" {
		h.index[item.ItemID] = len(h.items)
	}
	h.items = append(h.items, item)
	return true
}

// Get returns the item with the given id.
func (h *History) Get(itemID string) (HistoryItem, bool) {
	i, ok := h.index[itemID]
	if !ok {
		return HistoryItem{}, false
	}
	return h.items[i], true
}

// Snapshot returns a copy of the items in order.
func (h *History) Snapshot() []HistoryItem {
	out := make([]HistoryItem, len(h.items))
	copy(out, h.items)
	return out
}

// Len returns the number of items.
func (h *History) Len() int {
	return len(h.items)
}
