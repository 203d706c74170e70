package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/realtime"
)

// StaleSource yields connections that failed a delivery.
type StaleSource interface {
	Stale() <-chan string
	Unregister(id string) realtime.Subscriber
}

// Pruner removes stale connections outside the delivery path.
type Pruner struct {
	source StaleSource
	logger *zap.Logger
}

// NewPruner builds a pruner over source.
func NewPruner(source StaleSource, logger *zap.Logger) *Pruner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pruner{source: source, logger: logger}
}

// Run prunes until ctx is done.
func (p *Pruner) Run(ctx context.Context) {
	stale := p.source.Stale()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-stale:
			sub := p.source.Unregister(id)
			if sub == nil {
				continue
			}
			sub.Close()
			p.logger.Info("pruned stale connection", zap.String("connection_id", id))
		}
	}
}

// StartPruner runs a pruner in the background.
func StartPruner(ctx context.Context, source StaleSource, logger *zap.Logger) {
	if source == nil {
		return
	}
	go NewPruner(source, logger).Run(ctx)
}
