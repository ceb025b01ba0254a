package basket

import (
	"time"

	"scantally/internal/scan"
)

// Basket is a confirmed shopping list: the final accumulated items of one
// scan session, persisted with the frame snapshot that produced them.
// Amounts are in cents.
type Basket struct {
	ID               string      `json:"id"`
	Items            []scan.Item `json:"items"`
	TotalAmount      int64       `json:"total_amount"`
	ImageFilename    string      `json:"image_filename,omitempty"`
	ImageContentType string      `json:"image_content_type,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}
