package ingest

import (
	"context"
	"time"

	"github.com/dgnsrekt/zerogex/internal/data"
	"github.com/dgnsrekt/zerogex/internal/pricing"
)

// Sink receives acquisition output in emission order.
type Sink interface {
	Accept(ctx context.Context, item data.Item) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, item data.Item) error

func (f SinkFunc) Accept(ctx context.Context, item data.Item) error { return f(ctx, item) }

// Enricher attaches implied volatility and Greeks to an option record.
type Enricher interface {
	Enrich(rec *data.OptionRecord, asOf time.Time) pricing.Enrichment
}

// EnrichingSink prices option records before handing them on. Underlying
// bars pass through untouched.
type EnrichingSink struct {
	next     Sink
	enricher Enricher
}

func NewEnrichingSink(next Sink, enricher Enricher) *EnrichingSink {
	return &EnrichingSink{next: next, enricher: enricher}
}

func (s *EnrichingSink) Accept(ctx context.Context, item data.Item) error {
	if rec, ok := item.(*data.OptionRecord); ok {
		s.enricher.Enrich(rec, rec.Timestamp)
	}
	return s.next.Accept(ctx, item)
}
