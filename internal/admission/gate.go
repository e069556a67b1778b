// Package admission decides whether a scored item is worth persisting.
package admission

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sharkted/collector/internal/collect"
	"github.com/sharkted/collector/internal/events"
)

// Gate applies the score threshold in front of the item repository.
// Rejected items are dropped entirely; only the rejection event remains.
type Gate struct {
	threshold float64
	repo      collect.ItemRepository
	emitter   events.Emitter
	logger    *zap.Logger
}

// NewGate builds a Gate persisting through repo items scoring at or above
// threshold.
func NewGate(threshold float64, repo collect.ItemRepository, emitter events.Emitter, logger *zap.Logger) *Gate {
	return &Gate{
		threshold: threshold,
		repo:      repo,
		emitter:   emitter,
		logger:    logger.Named("admission"),
	}
}

// Admit persists the item when its score clears the threshold and reports
// whether it did. A repository failure surfaces as an error with the item
// counted as admitted-but-failed, not rejected.
func (g *Gate) Admit(ctx context.Context, item collect.Item, score float64) (bool, error) {
	if score < g.threshold {
		g.emit(events.KindItemRejected, item, score)
		g.logger.Debug("item rejected",
			zap.String("source", item.Source),
			zap.String("external_id", item.ExternalID),
			zap.Float64("score", score),
			zap.Float64("threshold", g.threshold))
		return false, nil
	}
	if err := g.repo.Upsert(ctx, item); err != nil {
		return false, fmt.Errorf("persist item %s/%s: %w", item.Source, item.ExternalID, err)
	}
	g.emit(events.KindItemAdmitted, item, score)
	return true, nil
}

func (g *Gate) emit(kind events.Kind, item collect.Item, score float64) {
	if g.emitter == nil {
		return
	}
	evt := events.New(kind, item.Source)
	evt.Score = score
	evt.URL = item.URL
	g.emitter.Emit(evt)
}
