package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/api"
)

// QuoteSource fetches option quotes.
type QuoteSource interface {
	GetOptionQuotes(ctx context.Context, symbols []string) ([]api.Quote, error)
}

// Batch is one slice of the symbol list.
type Batch struct {
	Index   int
	Symbols []string
}

func (b Batch) String() string {
	return fmt.Sprintf("batch %d (%d symbols)", b.Index, len(b.Symbols))
}

type batchOutcome struct {
	Batch  Batch
	Quotes []api.Quote
	Error  error
}

// BatchResult summarizes one fetch across all batches.
type BatchResult struct {
	Total   int
	Success int
	Failed  int
	Errors  []string
	Quotes  []api.Quote
}

// BatchFetcher splits symbol lists into request-sized batches and runs them
// through a small worker pool. Each worker pauses between its batches.
type BatchFetcher struct {
	src       QuoteSource
	batchSize int
	delay     time.Duration
	workers   int
	logger    *zap.Logger
}

func NewBatchFetcher(src QuoteSource, batchSize int, delay time.Duration, workers int, logger *zap.Logger) *BatchFetcher {
	if batchSize <= 0 || batchSize > api.MaxQuoteSymbols {
		batchSize = api.MaxQuoteSymbols
	}
	if workers <= 0 {
		workers = 1
	}
	return &BatchFetcher{
		src:       src,
		batchSize: batchSize,
		delay:     delay,
		workers:   workers,
		logger:    logger,
	}
}

// Split cuts symbols into consecutive batches.
func (f *BatchFetcher) Split(symbols []string) []Batch {
	var batches []Batch
	for start := 0; start < len(symbols); start += f.batchSize {
		end := min(start+f.batchSize, len(symbols))
		batches = append(batches, Batch{Index: len(batches), Symbols: symbols[start:end]})
	}
	return batches
}

// Fetch returns quotes for every batch that succeeded, in batch order.
// A failed batch is recorded and the rest still run. Fetch returns only
// after every batch has finished.
func (f *BatchFetcher) Fetch(ctx context.Context, symbols []string) (*BatchResult, error) {
	batches := f.Split(symbols)
	result := &BatchResult{Total: len(batches)}

	if len(batches) == 0 {
		return result, nil
	}

	jobs := make(chan Batch, len(batches))
	outcomes := make(chan batchOutcome, len(batches))

	// Start workers
	var wg sync.WaitGroup
	for i := 0; i < f.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.worker(ctx, jobs, outcomes)
		}()
	}

	for _, b := range batches {
		jobs <- b
	}
	close(jobs)

	// Wait for workers and close outcomes
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	byIndex := make([][]api.Quote, len(batches))
	for o := range outcomes {
		if o.Error != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", o.Batch, o.Error))
			continue
		}
		result.Success++
		byIndex[o.Batch.Index] = o.Quotes
	}
	for _, qs := range byIndex {
		result.Quotes = append(result.Quotes, qs...)
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (f *BatchFetcher) worker(ctx context.Context, jobs <-chan Batch, outcomes chan<- batchOutcome) {
	first := true
	for b := range jobs {
		if !first && f.delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(f.delay):
			}
		}
		first = false

		select {
		case <-ctx.Done():
			return
		default:
		}

		quotes, err := f.src.GetOptionQuotes(ctx, b.Symbols)
		if err != nil {
			f.logger.Warn("option batch failed", zap.Stringer("batch", b), zap.Error(err))
		} else {
			f.logger.Debug("option batch fetched", zap.Stringer("batch", b), zap.Int("quotes", len(quotes)))
		}
		outcomes <- batchOutcome{Batch: b, Quotes: quotes, Error: err}
	}
}
