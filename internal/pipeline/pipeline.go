// Package pipeline runs one ssjoin job end to end: load and rank the input
// collections (or read a prepared snapshot), optionally persist the prepared
// dataset, join it across shards or replay a cached result, and flush the
// output sink. Every phase is timed, traced and reported to the health
// checker.
package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/dataset"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/index"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/similarity"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/shard"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/source"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/tracing"
)

// Phase names, as reported by /healthz and the phase duration histogram.
const (
	PhaseLoad     = "load"
	PhasePrepare  = "prepare"
	PhaseSnapshot = "snapshot"
	PhaseJoin     = "join"
	PhaseFlush    = "flush"
	PhaseDone     = "done"
)

// Input names where records come from. Snapshot, when set, replaces the
// sources with a dataset prepared by an earlier run.
type Input struct {
	Indexed source.Source
	// Foreign is nil for a self join.
	Foreign source.Source
	// PreRanked sources already carry frequency-ranked token ids.
	PreRanked bool
	Snapshot  string
}

type Config struct {
	// Options.Strategy may be nil; it is then picked from the input,
	// prebuilt when a foreign collection is configured, even an empty one.
	Options     join.Options
	Shards      int
	Parallelism int
	// SnapshotPath, when set, receives the prepared dataset before joining.
	SnapshotPath string
	// SinkName labels sink error metrics.
	SinkName string
	// Trace logs the span tree of every run.
	Trace bool
}

// Result summarizes one run.
type Result struct {
	RunID    string
	Indexed  int
	Foreign  int
	Stats    join.Statistics
	CacheHit bool
	Duration time.Duration
	Trace    *tracing.Span
}

type Pipeline struct {
	cfg     Config
	input   Input
	out     sink.Sink
	cache   *cache.ResultCache
	metrics *metrics.Metrics
	checker *health.Checker
}

type Option func(*Pipeline)

// WithCache replays results of unchanged joins from c.
func WithCache(c *cache.ResultCache) Option {
	return func(p *Pipeline) { p.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithHealth publishes the running phase on checker.
func WithHealth(checker *health.Checker) Option {
	return func(p *Pipeline) { p.checker = checker }
}

// New builds a pipeline writing to out. Run closes out.
func New(cfg Config, input Input, out sink.Sink, opts ...Option) *Pipeline {
	if cfg.Options.Similarity == nil {
		cfg.Options.Similarity = similarity.Jaccard{}
	}
	if cfg.SinkName == "" {
		cfg.SinkName = "output"
	}
	p := &Pipeline{cfg: cfg, input: input, out: out}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the whole job. The sink is closed on every path; a close
// failure after a successful join is still an error.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	runID := newRunID()
	ctx = logger.WithRunID(ctx, runID)
	ctx, root := tracing.StartSpan(ctx, "ssjoin", runID)
	log := logger.FromContext(ctx).With("component", "pipeline")
	res := &Result{RunID: runID, Trace: root}

	err := p.run(ctx, res)
	if closeErr := p.phase(ctx, PhaseFlush, func(ctx context.Context, _ *tracing.Span) error {
		return p.out.Close(ctx)
	}); closeErr != nil {
		p.sinkError(closeErr)
		if err == nil {
			err = fmt.Errorf("closing sink: %w: %w", apperrors.ErrSinkFailed, closeErr)
		}
	}
	p.setPhase(PhaseDone)

	root.End()
	res.Duration = time.Since(start)
	root.SetAttr("pairs", res.Stats.PairsEmitted)
	root.SetAttr("cache_hit", res.CacheHit)
	if p.cfg.Trace {
		root.Log(log)
	}
	if err != nil {
		log.Error("run failed", "error", err, "duration", res.Duration)
		return res, err
	}
	log.Info("run finished",
		"indexed", res.Indexed,
		"foreign", res.Foreign,
		"pairs", res.Stats.PairsEmitted,
		"cache_hit", res.CacheHit,
		"duration", res.Duration,
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, res *Result) error {
	snap, err := p.Prepare(ctx)
	if err != nil {
		return err
	}
	res.Indexed, res.Foreign = len(snap.Dataset.Indexed), len(snap.Dataset.Foreign)

	if p.cfg.SnapshotPath != "" {
		err := p.phase(ctx, PhaseSnapshot, func(_ context.Context, span *tracing.Span) error {
			span.SetAttr("path", p.cfg.SnapshotPath)
			return snapshot.Write(p.cfg.SnapshotPath, snap)
		})
		if err != nil {
			return err
		}
	}

	opts, err := p.resolveOptions(snap)
	if err != nil {
		return err
	}
	return p.phase(ctx, PhaseJoin, func(ctx context.Context, span *tracing.Span) error {
		stats, hit, err := p.join(ctx, snap, opts)
		res.Stats, res.CacheHit = stats, hit
		span.SetAttr("strategy", opts.Strategy.Name())
		span.SetAttr("pairs", stats.PairsEmitted)
		return err
	})
}

// Prepare loads the input and returns the prepared dataset with the external
// ids of its records, without joining.
func (p *Pipeline) Prepare(ctx context.Context) (*snapshot.Snapshot, error) {
	if p.input.Snapshot != "" {
		var snap *snapshot.Snapshot
		err := p.phase(ctx, PhaseLoad, func(_ context.Context, span *tracing.Span) error {
			span.SetAttr("snapshot", p.input.Snapshot)
			var err error
			snap, err = snapshot.Read(p.input.Snapshot)
			return err
		})
		if err != nil {
			return nil, err
		}
		p.countPrepared(snap)
		return snap, nil
	}
	if p.input.Indexed == nil {
		return nil, apperrors.New(apperrors.ErrInvalidInput, apperrors.ExitConfig, "no indexed input configured")
	}

	ranker := dataset.NewRanker()
	add, addForeign := ranker.AddRecord, ranker.AddForeignRecord
	if p.input.PreRanked {
		add, addForeign = ranker.AddRawRecord, ranker.AddRawForeignRecord
	}
	snap := &snapshot.Snapshot{ForeignJoin: p.input.Foreign != nil}

	err := p.phase(ctx, PhaseLoad, func(ctx context.Context, span *tracing.Span) error {
		err := p.input.Indexed.Load(ctx, func(id int64, tokens []dataset.Token) error {
			snap.IndexedIDs = append(snap.IndexedIDs, id)
			return add(&tokens)
		})
		if err != nil {
			return fmt.Errorf("loading indexed records: %w", err)
		}
		if p.input.Foreign != nil {
			err := p.input.Foreign.Load(ctx, func(id int64, tokens []dataset.Token) error {
				snap.ForeignIDs = append(snap.ForeignIDs, id)
				return addForeign(&tokens)
			})
			if err != nil {
				return fmt.Errorf("loading foreign records: %w", err)
			}
		}
		span.SetAttr("indexed", ranker.IndexedCount())
		span.SetAttr("foreign", ranker.ForeignCount())
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.phase(ctx, PhasePrepare, func(context.Context, *tracing.Span) error {
		if err := ranker.PrepareIndexed(); err != nil {
			return err
		}
		if p.input.Foreign != nil {
			if err := ranker.PrepareForeign(); err != nil {
				return err
			}
		}
		ds, err := ranker.Finish()
		if err != nil {
			return err
		}
		snap.Dataset = ds
		snap.CreatedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.countPrepared(snap)
	return snap, nil
}

// resolveOptions fills in the strategy from the kind of join the input was
// prepared for and rejects a strategy that cannot run it. A foreign join with
// no probe records stays a foreign join and emits nothing.
func (p *Pipeline) resolveOptions(snap *snapshot.Snapshot) (join.Options, error) {
	opts := p.cfg.Options
	ds := snap.Dataset
	foreign := snap.ForeignJoin || len(ds.Foreign) > 0
	if opts.Strategy == nil {
		if foreign {
			opts.Strategy = index.PreBuilt{}
		} else {
			opts.Strategy = index.OnTheFly{}
		}
	}
	if opts.Strategy.SelfJoin() && foreign {
		return opts, apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitConfig,
			"strategy %s joins one collection but a foreign collection of %d records was given",
			opts.Strategy.Name(), len(ds.Foreign))
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "allpairs")
	}
	return opts, nil
}

func (p *Pipeline) join(ctx context.Context, snap *snapshot.Snapshot, opts join.Options) (join.Statistics, bool, error) {
	runner := shard.NewRunner(opts, shard.Config{
		Shards:      p.cfg.Shards,
		Parallelism: p.cfg.Parallelism,
	}, &shardObserver{metrics: p.metrics, logger: logger.FromContext(ctx)})

	indexedIDs := sink.IDMap(snap.IndexedIDs)
	probeIDs := sink.IDMap(snap.ForeignIDs)
	if opts.Strategy.SelfJoin() {
		probeIDs = indexedIDs
	}
	run := func(dst sink.Sink) (join.Statistics, error) {
		shared := sink.NewSynchronized(dst)
		stats, err := runner.Run(ctx, snap.Dataset, func(int) join.HandleOutput {
			return sink.NewOutput(ctx, shared, opts.Similarity, probeIDs, indexedIDs).OnError(p.sinkError)
		})
		p.observeJoin(stats)
		return stats, err
	}

	if p.cache == nil {
		stats, err := run(p.out)
		return stats, false, err
	}

	key := cache.NewFingerprint().
		Options(opts.Similarity.Name(), opts.Threshold, opts.Strategy.Name()).
		Collection("indexed", snap.Dataset.Indexed, indexedIDs).
		Collection("foreign", snap.Dataset.Foreign, sink.IDMap(snap.ForeignIDs)).
		Key()
	result, hit, err := p.cache.GetOrCompute(ctx, key, func() (*cache.Result, error) {
		collector := &sink.Collector{}
		stats, err := run(collector)
		if err != nil {
			return nil, err
		}
		return &cache.Result{Pairs: collector.Pairs(), Stats: stats}, nil
	})
	if err != nil {
		return join.Statistics{}, false, err
	}
	if p.metrics != nil {
		if hit {
			p.metrics.CacheHitsTotal.Inc()
		} else {
			p.metrics.CacheMissesTotal.Inc()
		}
	}
	if err := sink.Replay(ctx, p.out, result.Pairs); err != nil {
		p.sinkError(err)
		return result.Stats, hit, err
	}
	return result.Stats, hit, nil
}

func (p *Pipeline) phase(ctx context.Context, name string, fn func(ctx context.Context, span *tracing.Span) error) error {
	p.setPhase(name)
	ctx, span := tracing.StartChildSpan(ctx, name)
	start := time.Now()
	err := fn(ctx, span)
	span.End()
	if err != nil {
		span.SetAttr("error", err.Error())
	}
	if p.metrics != nil {
		p.metrics.ObservePhase(name, time.Since(start))
	}
	return err
}

func (p *Pipeline) setPhase(name string) {
	if p.checker != nil {
		p.checker.SetPhase(name)
	}
}

func (p *Pipeline) countPrepared(snap *snapshot.Snapshot) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordsPrepared.WithLabelValues("indexed").Add(float64(len(snap.Dataset.Indexed)))
	p.metrics.RecordsPrepared.WithLabelValues("foreign").Add(float64(len(snap.Dataset.Foreign)))
}

func (p *Pipeline) observeJoin(stats join.Statistics) {
	if p.metrics == nil {
		return
	}
	p.metrics.ObserveJoin(metrics.JoinCounters{
		Lookups:                stats.Lookups,
		IndexEntriesSeen:       stats.IndexEntriesSeen,
		CandidatesPrefixFilter: stats.CandidatesPrefixFilter,
		CandidatesVerified:     stats.CandidatesVerified,
		PairsEmitted:           stats.PairsEmitted,
	})
	p.metrics.IndexEntries.Set(float64(stats.IndexEntries))
}

func (p *Pipeline) sinkError(error) {
	if p.metrics != nil {
		p.metrics.SinkErrors.WithLabelValues(p.cfg.SinkName).Inc()
	}
}

// shardObserver tracks running shards.
type shardObserver struct {
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func (o *shardObserver) ShardStarted(shard int) {
	if o.metrics != nil {
		o.metrics.ShardsRunning.Inc()
	}
	o.logger.Debug("shard started", "shard", shard)
}

func (o *shardObserver) ShardFinished(shard int, stats join.Statistics, d time.Duration) {
	if o.metrics != nil {
		o.metrics.ShardsRunning.Dec()
	}
	o.logger.Info("shard finished",
		"shard", shard,
		"probes", stats.Probes,
		"pairs", stats.PairsEmitted,
		"duration", d,
	)
}

func newRunID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
