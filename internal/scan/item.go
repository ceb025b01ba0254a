package scan

import (
	"fmt"
	"strings"

	"scantally/internal/recognition"
)

// Item is a recognized line item that has been accepted into the running
// session list. Prices are in cents. Identity within a session is by
// position in the list.
type Item struct {
	Name          string `json:"name"`
	ArticleNumber string `json:"article_number,omitempty"`
	Quantity      int    `json:"quantity"`
	UnitPrice     int64  `json:"unit_price"`
	TotalPrice    int64  `json:"total_price"`
}

func newItem(c recognition.Item) Item {
	quantity := c.Quantity
	if quantity < 1 {
		quantity = 1
	}
	return Item{
		Name:          c.Name,
		ArticleNumber: c.ArticleNumber,
		Quantity:      quantity,
		UnitPrice:     c.UnitPrice,
		TotalPrice:    c.TotalPrice,
	}
}

// normalizeName lowercases and trims a recognized product label so that
// OCR casing noise does not defeat deduplication
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// contentSignature is the stable dedup key for a candidate: normalized
// name, unit price in cents, article number or empty
func contentSignature(c recognition.Item) string {
	return fmt.Sprintf("%s|%d|%s", normalizeName(c.Name), c.UnitPrice, c.ArticleNumber)
}

// positionSignature is the heuristic per-batch dedup key: the content
// fields plus the approximate line the item occupies in the raw OCR text
// and its index within the batch. Best-effort only; OCR noise can shift
// the line index between frames.
func positionSignature(c recognition.Item, rawText string, batchIndex int) string {
	return fmt.Sprintf("%s|%d|%s|%d|%d",
		normalizeName(c.Name), c.UnitPrice, c.ArticleNumber,
		lineIndex(rawText, c), batchIndex)
}

// lineIndex finds the line on which the candidate's name (or, failing
// that, its article number) appears in the raw recognized text. Returns
// -1 when neither is found.
func lineIndex(rawText string, c recognition.Item) int {
	haystack := strings.ToLower(rawText)
	for _, needle := range []string{strings.TrimSpace(c.Name), c.ArticleNumber} {
		if needle == "" {
			continue
		}
		if off := strings.Index(haystack, strings.ToLower(needle)); off >= 0 {
			// Count in the lowercased copy: ToLower can change byte
			// lengths, so the offset is only valid in haystack.
			return strings.Count(haystack[:off], "\n")
		}
	}
	return -1
}
