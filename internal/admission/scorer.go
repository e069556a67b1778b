package admission

import (
	"context"
	"strings"

	"github.com/sharkted/collector/internal/collect"
)

// CompletenessScorer grades an item by field completeness on a 0-100 scale.
// The weights favor the fields downstream pricing needs most; a listing
// without a price is worth very little no matter how pretty the rest is.
type CompletenessScorer struct{}

// Score implements collect.Scorer.
func (CompletenessScorer) Score(_ context.Context, item collect.Item) (float64, error) {
	var score float64
	if strings.TrimSpace(item.Title) != "" {
		score += 25
	}
	if item.Price > 0 {
		score += 35
	}
	if item.Currency != "" {
		score += 10
	}
	if item.Brand != "" {
		score += 10
	}
	if item.ImageURL != "" {
		score += 10
	}
	if item.ExternalID != "" && item.ExternalID != item.URL {
		score += 10
	}
	return score, nil
}
