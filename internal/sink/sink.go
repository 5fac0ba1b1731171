package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"gemfeed/internal"
)

const DefaultBufferSize = 1000

// Store is the persistence surface the sink needs from a site database.
type Store interface {
	ExistingStockNumbers(ctx context.Context, source string) (map[string]struct{}, error)
	LoadSpool(ctx context.Context, spool io.Reader) (int64, error)
	UpdateDiamonds(ctx context.Context, source string, updates []internal.DiamondUpdate) error
	DeactivateMissing(ctx context.Context, source string, seen map[string]struct{}) (int64, error)
}

type Result struct {
	Inserted    int
	Updated     int
	Deactivated int
}

func (r Result) Accepted() int {
	return r.Inserted + r.Updated
}

// Sink buffers emitted rows for one backend run. New stock numbers are
// bulk-loaded through the spool; known ones become targeted updates.
type Sink struct {
	store      Store
	source     string
	bufferSize int

	existing map[string]struct{}
	seen     map[string]struct{}

	spool   bytes.Buffer
	pending int
	updates []internal.DiamondUpdate

	result Result
}

// New loads the stock numbers already stored for source once, up front.
func New(ctx context.Context, store Store, source string, bufferSize int) (*Sink, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	existing, err := store.ExistingStockNumbers(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("load existing stock numbers for %s: %w", source, err)
	}
	return &Sink{
		store:      store,
		source:     source,
		bufferSize: bufferSize,
		existing:   existing,
		seen:       map[string]struct{}{},
	}, nil
}

func (s *Sink) Accept(ctx context.Context, row *internal.Diamond) error {
	_, known := s.existing[row.StockNumber]
	_, dup := s.seen[row.StockNumber]
	s.seen[row.StockNumber] = struct{}{}

	if known || dup {
		s.updates = append(s.updates, internal.DiamondUpdate{
			StockNumber: row.StockNumber,
			Active:      row.Active,
			Price:       row.Price,
			CaratPrice:  row.CaratPrice,
			Certifier:   row.Certifier,
			Data:        row.Data,
		})
		s.result.Updated++
	} else {
		s.spool.WriteString(EncodeRow(row))
		s.spool.WriteByte('\n')
		s.pending++
		s.result.Inserted++
	}

	if s.pending+len(s.updates) >= s.bufferSize {
		return s.Flush(ctx)
	}
	return nil
}

// Flush loads buffered inserts before applying buffered updates so a stock
// number repeated within one buffer updates the row it just inserted.
func (s *Sink) Flush(ctx context.Context) error {
	if s.pending > 0 {
		if _, err := s.store.LoadSpool(ctx, &s.spool); err != nil {
			return fmt.Errorf("bulk load %s: %w", s.source, err)
		}
		s.spool.Reset()
		s.pending = 0
	}
	if len(s.updates) > 0 {
		if err := s.store.UpdateDiamonds(ctx, s.source, s.updates); err != nil {
			return fmt.Errorf("update %s: %w", s.source, err)
		}
		s.updates = s.updates[:0]
	}
	return nil
}

// Close flushes the tail of the feed. With deactivate set, listings of the
// source absent from this run are marked inactive, but only when the run
// accepted at least one row.
func (s *Sink) Close(ctx context.Context, deactivate bool) (Result, error) {
	if err := s.Flush(ctx); err != nil {
		return s.result, err
	}
	if deactivate && len(s.seen) > 0 {
		n, err := s.store.DeactivateMissing(ctx, s.source, s.seen)
		if err != nil {
			return s.result, fmt.Errorf("deactivate %s: %w", s.source, err)
		}
		s.result.Deactivated = int(n)
	}
	return s.result, nil
}
