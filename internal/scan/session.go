package scan

import (
	"fmt"
	"time"

	"scantally/internal/recognition"
)

// DefaultMinScanInterval is the minimum time between accepted recognition
// batches during live full-receipt scanning.
const DefaultMinScanInterval = 1500 * time.Millisecond

// Session accumulates recognized line items across the camera frames of
// one scanning flow. Receipts are re-scanned many times per second while
// the user repositions the camera, so every incoming batch is filtered
// against what the session already holds: a position-signature pre-filter
// suppresses re-processing of the same physical receipt line, and a
// content/article/name+price check suppresses items already in the list.
// The rule is deliberately conservative about declaring something new:
// a missed item is easy for the user to fix, a duplicate row is not.
//
// Session is not safe for concurrent use; LiveScanner serializes access.
type Session struct {
	minInterval   time.Duration
	items         []Item
	total         int64
	seenPositions map[string]struct{}
	lastScan      time.Time
	epoch         uint64
}

// IngestResult reports the outcome of one ingested batch
type IngestResult struct {
	Added     int
	Throttled bool
}

// NewSession creates an empty scan session. A non-positive minInterval
// selects DefaultMinScanInterval.
func NewSession(minInterval time.Duration) *Session {
	if minInterval <= 0 {
		minInterval = DefaultMinScanInterval
	}
	return &Session{
		minInterval:   minInterval,
		items:         make([]Item, 0),
		seenPositions: make(map[string]struct{}),
	}
}

// IngestBatch merges one recognition batch into the session. Calls that
// arrive within the minimum scan interval of the previous accepted call
// are throttled no-ops that leave all state untouched. An accepted call
// advances the scan timestamp even when nothing new was found, so the
// cadence holds regardless of recognition outcome.
func (s *Session) IngestBatch(items []recognition.Item, rawText string, now time.Time) IngestResult {
	if !s.lastScan.IsZero() && now.Sub(s.lastScan) < s.minInterval {
		return IngestResult{Throttled: true}
	}
	s.lastScan = now

	added := 0
	for i, candidate := range items {
		pos := positionSignature(candidate, rawText, i)
		if _, ok := s.seenPositions[pos]; ok {
			// Same physical receipt line seen on an earlier frame
			continue
		}
		s.seenPositions[pos] = struct{}{}

		if s.isDuplicate(candidate) {
			continue
		}

		item := newItem(candidate)
		s.items = append(s.items, item)
		s.total += item.TotalPrice
		added++
	}

	return IngestResult{Added: added}
}

// isDuplicate reports whether the candidate is very likely an item that
// is already accumulated: exact content signature match, shared article
// number (names misread across frames still carry the same number), or
// same normalized name at the same unit price.
func (s *Session) isDuplicate(c recognition.Item) bool {
	sig := contentSignature(c)
	name := normalizeName(c.Name)
	for i := range s.items {
		existing := &s.items[i]
		if contentSignature(recognition.Item{
			Name:          existing.Name,
			ArticleNumber: existing.ArticleNumber,
			UnitPrice:     existing.UnitPrice,
		}) == sig {
			return true
		}
		if c.ArticleNumber != "" && c.ArticleNumber == existing.ArticleNumber {
			return true
		}
		if name == normalizeName(existing.Name) && c.UnitPrice == existing.UnitPrice {
			return true
		}
	}
	return false
}

// UpdateQuantity sets the quantity of the item at index, recomputing its
// total price and the running total. A quantity below 1 removes the item.
func (s *Session) UpdateQuantity(index int, quantity int) error {
	if index < 0 || index >= len(s.items) {
		return fmt.Errorf("item index %d out of range", index)
	}
	if quantity < 1 {
		return s.Remove(index)
	}

	item := &s.items[index]
	newTotal := item.UnitPrice * int64(quantity)
	s.total += newTotal - item.TotalPrice
	item.Quantity = quantity
	item.TotalPrice = newTotal
	return nil
}

// Remove deletes the item at index and subtracts its total price from the
// running total. Its position signatures stay recorded: re-scanning the
// same receipt line must not resurrect an item the user just deleted.
func (s *Session) Remove(index int) error {
	if index < 0 || index >= len(s.items) {
		return fmt.Errorf("item index %d out of range", index)
	}
	s.total -= s.items[index].TotalPrice
	s.items = append(s.items[:index], s.items[index+1:]...)
	return nil
}

// Reset clears the session back to its initial state and invalidates any
// in-flight recognition result.
func (s *Session) Reset() {
	s.items = s.items[:0]
	s.total = 0
	s.seenPositions = make(map[string]struct{})
	s.lastScan = time.Time{}
	s.epoch++
}

// Confirm returns a snapshot of the accumulated items for persistence.
// The session itself is left untouched; the caller decides whether to
// reset after a successful save.
func (s *Session) Confirm() []Item {
	snapshot := make([]Item, len(s.items))
	copy(snapshot, s.items)
	return snapshot
}

// Items returns a copy of the accumulated items in display order
func (s *Session) Items() []Item {
	items := make([]Item, len(s.items))
	copy(items, s.items)
	return items
}

// Total returns the running total in cents
func (s *Session) Total() int64 {
	return s.total
}

// Len returns the number of accumulated items
func (s *Session) Len() int {
	return len(s.items)
}
