package sink

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/resilience"
)

var errClosed = errors.New("sink closed")

// batcher buffers pairs and hands full batches to flush, retrying each batch
// as a whole. flush returns resilience.Permanent for failures that would
// repeat, such as unencodable values or rejected rows.
type batcher struct {
	name    string
	size    int
	retry   resilience.RetryConfig
	pending []Pair
	flushFn func(ctx context.Context, batch []Pair) error
	flushed int64
	closed  bool
	logger  *slog.Logger
}

func newBatcher(name string, size int, retry resilience.RetryConfig, flush func(context.Context, []Pair) error) *batcher {
	if size <= 0 {
		size = 500
	}
	return &batcher{
		name:    name,
		size:    size,
		retry:   retry,
		pending: make([]Pair, 0, size),
		flushFn: flush,
		logger:  slog.Default().With("component", "sink", "sink", name),
	}
}

func (b *batcher) add(ctx context.Context, p Pair) error {
	if b.closed {
		return errClosed
	}
	b.pending = append(b.pending, p)
	if len(b.pending) >= b.size {
		return b.flush(ctx)
	}
	return nil
}

func (b *batcher) flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	err := resilience.Retry(ctx, b.name+" flush", b.retry, func() error {
		return b.flushFn(ctx, b.pending)
	})
	if err != nil {
		return err
	}
	b.flushed += int64(len(b.pending))
	b.pending = b.pending[:0]
	return nil
}

func (b *batcher) close(ctx context.Context) error {
	if b.closed {
		return nil
	}
	err := b.flush(ctx)
	b.closed = true
	b.logger.Info("sink closed", "pairs_flushed", b.flushed)
	return err
}

// Publisher is the Kafka side of the Kafka sink; *kafka.Producer
// implements it.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Kafka publishes pairs in batches keyed by probe id, so all partners of one
// probe land on one partition.
type Kafka struct {
	b *batcher
}

func NewKafka(pub Publisher, batchSize int, retry resilience.RetryConfig) *Kafka {
	return &Kafka{b: newBatcher("kafka", batchSize, retry, func(ctx context.Context, batch []Pair) error {
		events := make([]kafka.Event, len(batch))
		for i, p := range batch {
			events[i] = kafka.Event{Key: strconv.FormatInt(p.Probe, 10), Value: p}
		}
		err := pub.PublishBatch(ctx, events)
		if errors.Is(err, kafka.ErrEncode) {
			return resilience.Permanent(err)
		}
		return err
	})}
}

func (k *Kafka) Emit(ctx context.Context, p Pair) error { return k.b.add(ctx, p) }

func (k *Kafka) Close(ctx context.Context) error { return k.b.close(ctx) }

// PairCopier bulk-loads pairs; *postgres.Client implements it.
type PairCopier interface {
	CopyPairs(ctx context.Context, table string, rows []postgres.PairRow) error
}

// Postgres copies pairs into table, one transaction per batch.
type Postgres struct {
	b *batcher
}

func NewPostgres(db PairCopier, table string, batchSize int, retry resilience.RetryConfig) *Postgres {
	return &Postgres{b: newBatcher("postgres", batchSize, retry, func(ctx context.Context, batch []Pair) error {
		rows := make([]postgres.PairRow, len(batch))
		for i, p := range batch {
			rows[i] = postgres.PairRow{ProbeID: p.Probe, IndexedID: p.Indexed, Similarity: p.Similarity}
		}
		err := db.CopyPairs(ctx, table, rows)
		if postgres.IsPermanent(err) {
			return resilience.Permanent(err)
		}
		return err
	})}
}

func (s *Postgres) Emit(ctx context.Context, p Pair) error { return s.b.add(ctx, p) }

func (s *Postgres) Close(ctx context.Context) error { return s.b.close(ctx) }
