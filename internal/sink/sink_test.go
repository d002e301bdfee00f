package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/dataset"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/similarity"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/resilience"
)

var ctx = context.Background()

var fastRetry = resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

func TestOutputMapsIDsAndScores(t *testing.T) {
	var c Collector
	out := NewOutput(ctx, &c, similarity.Jaccard{}, IDMap{100, 101}, IDMap{200, 201, 202})

	probe := dataset.Record{ID: 1, Tokens: []dataset.Token{1, 2, 3, 4}}
	indexed := dataset.Record{ID: 2, Tokens: []dataset.Token{2, 3, 4, 5}}
	require.NoError(t, out.AddPair(probe, indexed))

	require.Len(t, c.Pairs(), 1)
	assert.Equal(t, int64(101), c.Pairs()[0].Probe)
	assert.Equal(t, int64(202), c.Pairs()[0].Indexed)
	assert.InDelta(t, 0.6, c.Pairs()[0].Similarity, 1e-12)
}

type failingSink struct{ err error }

func (f failingSink) Emit(context.Context, Pair) error { return f.err }
func (f failingSink) Close(context.Context) error      { return nil }

func TestOutputWrapsSinkErrors(t *testing.T) {
	boom := errors.New("disk full")
	var seen error
	out := NewOutput(ctx, failingSink{boom}, similarity.Jaccard{}, nil, nil).OnError(func(err error) { seen = err })

	err := out.AddPair(dataset.Record{}, dataset.Record{})
	assert.ErrorIs(t, err, apperrors.ErrSinkFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, boom, seen)
	assert.Equal(t, apperrors.ExitOutput, apperrors.ExitCode(err))
}

func TestWriterText(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, FormatText)
	require.NoError(t, w.Emit(ctx, Pair{Probe: 3, Indexed: 1}))
	require.NoError(t, w.Emit(ctx, Pair{Probe: 9, Indexed: 4}))
	assert.Empty(t, buf.String(), "buffered until close")
	require.NoError(t, w.Close(ctx))
	assert.Equal(t, "3 1\n9 4\n", buf.String())
}

func TestWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, FormatJSON)
	require.NoError(t, w.Emit(ctx, Pair{Probe: 3, Indexed: 1, Similarity: 0.75}))
	require.NoError(t, w.Close(ctx))
	assert.JSONEq(t, `{"probe":3,"indexed":1,"similarity":0.75}`, strings.TrimSpace(buf.String()))
}

func TestTopKKeepsBest(t *testing.T) {
	top := NewTopK(2)
	for _, p := range []Pair{
		{Probe: 1, Indexed: 0, Similarity: 0.5},
		{Probe: 2, Indexed: 0, Similarity: 0.9},
		{Probe: 3, Indexed: 1, Similarity: 0.7},
		{Probe: 4, Indexed: 2, Similarity: 0.9},
	} {
		require.NoError(t, top.Emit(ctx, p))
	}
	got := top.Pairs()
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].Probe, "ties prefer the smaller id")
	assert.Equal(t, int64(4), got[1].Probe)
}

func TestTopKZero(t *testing.T) {
	top := NewTopK(0)
	require.NoError(t, top.Emit(ctx, Pair{Similarity: 1}))
	assert.Empty(t, top.Pairs())
}

func TestSynchronizedCounter(t *testing.T) {
	var c Counter
	s := NewSynchronized(&c)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				_ = s.Emit(ctx, Pair{})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, int64(8000), c.Count())
}

func TestTeeAndReplay(t *testing.T) {
	var a, b Collector
	pairs := []Pair{{Probe: 1, Indexed: 2}, {Probe: 3, Indexed: 4}}
	require.NoError(t, Replay(ctx, Tee{&a, &b}, pairs))
	assert.Equal(t, pairs, a.Pairs())
	assert.Equal(t, pairs, b.Pairs())
}

type fakePublisher struct {
	batches [][]kafka.Event
	fails   int
	err     error
	calls   int
}

func (f *fakePublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	f.calls++
	if f.fails > 0 {
		f.fails--
		if f.err != nil {
			return f.err
		}
		return errors.New("leader not available")
	}
	f.batches = append(f.batches, append([]kafka.Event(nil), events...))
	return nil
}

func TestKafkaBatchesAndRetries(t *testing.T) {
	pub := &fakePublisher{fails: 1}
	k := NewKafka(pub, 2, fastRetry)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, k.Emit(ctx, Pair{Probe: i, Indexed: i + 10}))
	}
	require.Len(t, pub.batches, 2)
	require.NoError(t, k.Close(ctx))
	require.Len(t, pub.batches, 3)
	assert.Len(t, pub.batches[2], 1)
	assert.Equal(t, "4", pub.batches[2][0].Key)

	assert.ErrorIs(t, k.Emit(ctx, Pair{}), errClosed)
	assert.NoError(t, k.Close(ctx), "second close is a no-op")
}

func TestKafkaGivesUp(t *testing.T) {
	pub := &fakePublisher{fails: 10}
	k := NewKafka(pub, 1, fastRetry)
	assert.Error(t, k.Emit(ctx, Pair{}))
	assert.Equal(t, 3, pub.calls)
}

func TestKafkaEncodeErrorIsNotRetried(t *testing.T) {
	pub := &fakePublisher{fails: 10, err: fmt.Errorf("%w 1: unsupported value", kafka.ErrEncode)}
	k := NewKafka(pub, 1, fastRetry)
	err := k.Emit(ctx, Pair{Probe: 1})
	assert.ErrorIs(t, err, kafka.ErrEncode)
	assert.Equal(t, 1, pub.calls)
}

type fakeCopier struct {
	tables []string
	rows   []postgres.PairRow
	err    error
	calls  int
}

func (f *fakeCopier) CopyPairs(_ context.Context, table string, rows []postgres.PairRow) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.tables = append(f.tables, table)
	f.rows = append(f.rows, rows...)
	return nil
}

func TestPostgresFlushesOnClose(t *testing.T) {
	db := &fakeCopier{}
	s := NewPostgres(db, "pairs", 100, fastRetry)
	require.NoError(t, s.Emit(ctx, Pair{Probe: 1, Indexed: 2, Similarity: 0.8}))
	assert.Empty(t, db.rows)
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, []string{"pairs"}, db.tables)
	assert.Equal(t, []postgres.PairRow{{ProbeID: 1, IndexedID: 2, Similarity: 0.8}}, db.rows)
}

func TestPostgresRetries(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		calls int
	}{
		{"constraint violation fails at once", &pq.Error{Code: "23505", Message: "duplicate key"}, 1},
		{"missing table fails at once", &pq.Error{Code: "42P01", Message: "relation does not exist"}, 1},
		{"connection loss is retried", errors.New("driver: bad connection"), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeCopier{err: tt.err}
			s := NewPostgres(db, "pairs", 1, fastRetry)
			err := s.Emit(ctx, Pair{Probe: 1, Indexed: 2})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.calls, db.calls)
		})
	}
}
