// Package sink delivers joined pairs: counted, collected in memory, written as
// text or JSON lines, reduced to the top k, or shipped in batches to Kafka or
// PostgreSQL.
package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/dataset"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/similarity"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/verify"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
)

// Pair is one join result in terms of the caller's record ids.
type Pair struct {
	Probe      int64   `json:"probe"`
	Indexed    int64   `json:"indexed"`
	Similarity float64 `json:"similarity"`
}

// Sink consumes pairs. Close flushes anything buffered; Emit after Close is
// an error.
type Sink interface {
	Emit(ctx context.Context, p Pair) error
	Close(ctx context.Context) error
}

// IDMap translates the join's positional record ids back to external ids.
// A nil IDMap is the identity.
type IDMap []int64

func (m IDMap) lookup(id int) int64 {
	if m == nil {
		return int64(id)
	}
	return m[id]
}

// Output adapts a Sink to the join's pair callback: it maps ids, scores the
// pair and forwards it. Errors come back wrapped in ErrSinkFailed.
type Output struct {
	ctx        context.Context
	sink       Sink
	sim        similarity.Similarity
	probeIDs   IDMap
	indexedIDs IDMap
	onError    func(err error)
}

// NewOutput builds the adapter. probeIDs is the indexed map again for self
// joins.
func NewOutput(ctx context.Context, s Sink, sim similarity.Similarity, probeIDs, indexedIDs IDMap) *Output {
	return &Output{ctx: ctx, sink: s, sim: sim, probeIDs: probeIDs, indexedIDs: indexedIDs}
}

// OnError registers a hook called with every failed emit, for metrics.
func (o *Output) OnError(fn func(err error)) *Output {
	o.onError = fn
	return o
}

func (o *Output) AddPair(probe, indexed dataset.Record) error {
	overlap := verify.Count(probe.Tokens, indexed.Tokens)
	p := Pair{
		Probe:      o.probeIDs.lookup(probe.ID),
		Indexed:    o.indexedIDs.lookup(indexed.ID),
		Similarity: o.sim.Score(overlap, probe.Len(), indexed.Len()),
	}
	if err := o.sink.Emit(o.ctx, p); err != nil {
		if o.onError != nil {
			o.onError(err)
		}
		return fmt.Errorf("%w: %w", apperrors.ErrSinkFailed, err)
	}
	return nil
}

// Synchronized serializes Emit and Close so shards can share one sink.
type Synchronized struct {
	mu   sync.Mutex
	sink Sink
}

func NewSynchronized(s Sink) *Synchronized { return &Synchronized{sink: s} }

func (s *Synchronized) Emit(ctx context.Context, p Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink.Emit(ctx, p)
}

func (s *Synchronized) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink.Close(ctx)
}

// Counter only counts pairs.
type Counter struct {
	n int64
}

func (c *Counter) Emit(context.Context, Pair) error {
	c.n++
	return nil
}

func (c *Counter) Close(context.Context) error { return nil }

func (c *Counter) Count() int64 { return c.n }

// Collector keeps every pair in memory.
type Collector struct {
	pairs []Pair
}

func (c *Collector) Emit(_ context.Context, p Pair) error {
	c.pairs = append(c.pairs, p)
	return nil
}

func (c *Collector) Close(context.Context) error { return nil }

// Pairs returns the collected pairs in emit order.
func (c *Collector) Pairs() []Pair { return c.pairs }

// Replay emits every collected pair into dst, for example after a cache hit.
func Replay(ctx context.Context, dst Sink, pairs []Pair) error {
	for _, p := range pairs {
		if err := dst.Emit(ctx, p); err != nil {
			return fmt.Errorf("%w: %w", apperrors.ErrSinkFailed, err)
		}
	}
	return nil
}

// Tee emits to every sink in order and closes all of them.
type Tee []Sink

func (t Tee) Emit(ctx context.Context, p Pair) error {
	for _, s := range t {
		if err := s.Emit(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (t Tee) Close(ctx context.Context) error {
	var first error
	for _, s := range t {
		if err := s.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
