package recognition

import "context"

// Item is a single recognized receipt line item. Prices are in cents;
// the float values produced by the vision models are converted exactly
// once, in parseItemsJSON.
type Item struct {
	Name          string `json:"name"`
	ArticleNumber string `json:"article_number,omitempty"`
	Quantity      int    `json:"quantity"`
	UnitPrice     int64  `json:"unit_price"`
	TotalPrice    int64  `json:"total_price"`
}

// Result is the outcome of recognizing one camera frame. Zero items with
// a nil error means "nothing recognized", which is frequent during live
// scanning and not an error.
type Result struct {
	Items   []Item
	RawText string
}

// Recognizer defines the interface for frame recognition operations
type Recognizer interface {
	// Recognize analyzes a frame image/PDF and extracts line items
	Recognize(ctx context.Context, imageData []byte, contentType string) (*Result, error)
	// Close closes the recognizer and releases resources
	Close() error
}
