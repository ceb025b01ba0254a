package recognition

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// wireItem is the line-item shape the LLM is asked to return. Prices are
// floats in major currency units here and nowhere else.
type wireItem struct {
	Name          string  `json:"name"`
	ArticleNumber string  `json:"article_number"`
	Quantity      int     `json:"quantity"`
	UnitPrice     float64 `json:"unit_price"`
	TotalPrice    float64 `json:"total_price"`
}

type wireResponse struct {
	Items   []wireItem `json:"items"`
	RawText string     `json:"raw_text"`
}

// toCents converts a major-unit price to integer cents
func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// parseItemsJSON parses the JSON response from a vision model and
// normalizes each item: quantity defaults to 1, total price defaults to
// unit price times quantity, nameless items are dropped.
func parseItemsJSON(text string) (*Result, error) {
	text = strings.TrimSpace(text)

	// Remove markdown code blocks if present
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	text = text[startIdx : endIdx+1]

	var resp wireResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	result := &Result{
		Items:   make([]Item, 0, len(resp.Items)),
		RawText: resp.RawText,
	}

	for _, wi := range resp.Items {
		name := strings.TrimSpace(wi.Name)
		if name == "" {
			continue
		}

		quantity := wi.Quantity
		if quantity < 1 {
			quantity = 1
		}

		unitPrice := wi.UnitPrice
		if unitPrice < 0 {
			unitPrice = 0
		}

		totalPrice := wi.TotalPrice
		if totalPrice <= 0 {
			totalPrice = unitPrice * float64(quantity)
		}

		result.Items = append(result.Items, Item{
			Name:          name,
			ArticleNumber: strings.TrimSpace(wi.ArticleNumber),
			Quantity:      quantity,
			UnitPrice:     toCents(unitPrice),
			TotalPrice:    toCents(totalPrice),
		})
	}

	return result, nil
}
