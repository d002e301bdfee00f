// Package shard runs one join as several independent AllPairs instances. The
// probe records of a foreign join are partitioned by a hash of their id; every
// shard indexes the full indexed collection and probes only its partition.
package shard

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/dataset"
)

// OutputFactory returns the pair callback of one shard. The callbacks of
// different shards run concurrently.
type OutputFactory func(shard int) join.HandleOutput

// Observer is told when shards start and stop; it may be nil.
type Observer interface {
	ShardStarted(shard int)
	ShardFinished(shard int, stats join.Statistics, d time.Duration)
}

type Config struct {
	Shards      int
	Parallelism int
}

type Runner struct {
	opts     join.Options
	cfg      Config
	observer Observer
	logger   *slog.Logger
}

func NewRunner(opts join.Options, cfg Config, observer Observer) *Runner {
	if cfg.Shards < 1 {
		cfg.Shards = 1
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		opts:     opts,
		cfg:      cfg,
		observer: observer,
		logger:   logger.With("component", "shard-runner"),
	}
}

// Of returns the shard of an external record id.
func Of(id int, shards int) int {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	return int(xxhash.Sum64(buf[:]) % uint64(shards))
}

// Partition splits records into shards, keeping their relative order so each
// part stays sorted by length.
func Partition(records []dataset.Record, shards int) [][]dataset.Record {
	parts := make([][]dataset.Record, shards)
	for _, r := range records {
		s := Of(r.ID, shards)
		parts[s] = append(parts[s], r)
	}
	return parts
}

// Run joins ds and returns the summed statistics. A self join always runs as
// a single shard: its probes are its indexed records, and splitting them
// would lose every pair that crosses partitions. The first failing shard
// cancels the rest.
func (r *Runner) Run(ctx context.Context, ds dataset.Dataset, out OutputFactory) (join.Statistics, error) {
	opts := r.opts
	probe := func(ctx context.Context, shard int, part dataset.Dataset) (join.Statistics, error) {
		o := opts
		o.Logger = r.logger.With("shard", shard)
		return r.runShard(ctx, shard, o, part, out(shard))
	}

	selfJoin := opts.Strategy == nil || opts.Strategy.SelfJoin()
	if selfJoin || r.cfg.Shards == 1 {
		return probe(ctx, 0, ds)
	}

	parts := Partition(ds.Foreign, r.cfg.Shards)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)

	var mu sync.Mutex
	var total join.Statistics
	for shard, part := range parts {
		if len(part) == 0 {
			continue
		}
		g.Go(func() error {
			stats, err := probe(gctx, shard, dataset.Dataset{
				Indexed:  ds.Indexed,
				Foreign:  part,
				MaxToken: ds.MaxToken,
			})
			mu.Lock()
			total.Add(stats)
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	r.logger.Info("shards finished",
		"shards", r.cfg.Shards,
		"parallelism", r.cfg.Parallelism,
		"pairs", total.PairsEmitted,
		"error", err,
	)
	return total, err
}

func (r *Runner) runShard(ctx context.Context, shard int, opts join.Options, part dataset.Dataset, out join.HandleOutput) (join.Statistics, error) {
	start := time.Now()
	a, err := join.New(opts)
	if err != nil {
		return join.Statistics{}, err
	}
	if r.observer != nil {
		r.observer.ShardStarted(shard)
	}
	defer func() {
		if r.observer != nil {
			r.observer.ShardFinished(shard, a.Stats(), time.Since(start))
		}
	}()
	if err := a.LoadDataset(part); err != nil {
		return join.Statistics{}, fmt.Errorf("shard %d: %w", shard, err)
	}
	if err := a.Index(); err != nil {
		return join.Statistics{}, fmt.Errorf("shard %d: %w", shard, err)
	}
	if err := a.Join(ctx, out); err != nil {
		return a.Stats(), fmt.Errorf("shard %d: %w", shard, err)
	}
	return a.Stats(), nil
}
