package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/index"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/lengthfilter"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/similarity"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/source"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/resilience"
)

// joinFlags override config values when set on the command line.
type joinFlags struct {
	input       string
	foreign     string
	format      string
	similarity  string
	threshold   float64
	sink        string
	output      string
	outFormat   string
	topK        int
	shards      int
	snapshotOut string
	preRanked   bool
}

func (f *joinFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.input, "input", "i", "", "indexed collection path")
	fl.StringVar(&f.foreign, "foreign", "", "foreign collection path; enables a foreign join")
	fl.StringVar(&f.format, "format", "", "input format: int, text or snapshot")
	fl.StringVarP(&f.similarity, "similarity", "s", "", "jaccard, cosine, dice or overlap")
	fl.Float64VarP(&f.threshold, "threshold", "t", 0, "similarity threshold")
	fl.StringVar(&f.sink, "sink", "", "stdout, file, count, topk, kafka or postgres")
	fl.StringVarP(&f.output, "output", "o", "", "output path for the file sink")
	fl.StringVar(&f.outFormat, "output-format", "", "text or json")
	fl.IntVar(&f.topK, "top-k", 0, "pairs kept by the topk sink")
	fl.IntVar(&f.shards, "shards", 0, "probe partitions of a foreign join")
	fl.StringVar(&f.snapshotOut, "snapshot", "", "also write the prepared dataset here")
	fl.BoolVar(&f.preRanked, "pre-ranked", false, "token ids are already frequency ranked")
}

func (f *joinFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("input") {
		cfg.Input.Path = f.input
	}
	if changed("foreign") {
		cfg.Input.ForeignPath = f.foreign
	}
	if changed("format") {
		cfg.Input.Format = f.format
	}
	if changed("similarity") {
		cfg.Join.Similarity = f.similarity
	}
	if changed("threshold") {
		cfg.Join.Threshold = f.threshold
	}
	if changed("sink") {
		cfg.Output.Sink = f.sink
	}
	if changed("output") {
		cfg.Output.Path = f.output
	}
	if changed("output-format") {
		cfg.Output.Format = f.outFormat
	}
	if changed("top-k") {
		cfg.Output.TopK = f.topK
	}
	if changed("shards") {
		cfg.Join.Shards = f.shards
	}
	if changed("snapshot") {
		cfg.Snapshot.Path = f.snapshotOut
	}
	if changed("pre-ranked") {
		cfg.Input.PreRanked = f.preRanked
	}
}

func newJoinCommand(a *app) *cobra.Command {
	flags := &joinFlags{}
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join the configured collections and emit every similar pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd, func(cfg *config.Config) { flags.apply(cmd, cfg) }); err != nil {
				return err
			}
			return a.runJoin(cmd.Context(), cmd.OutOrStdout())
		},
	}
	flags.register(cmd)
	return cmd
}

// resources collects everything a run opens, closed in reverse order.
type resources struct {
	closers []func() error
	db      *postgres.Client
}

func (r *resources) add(fn func() error) { r.closers = append(r.closers, fn) }

func (r *resources) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			slog.Warn("closing resource", "error", err)
		}
	}
}

// postgres connects once and registers a readiness check.
func (r *resources) postgres(cfg config.PostgresConfig, checker *health.Checker) (*postgres.Client, error) {
	if r.db != nil {
		return r.db, nil
	}
	db, err := postgres.New(cfg)
	if err != nil {
		return nil, err
	}
	r.db = db
	r.add(db.Close)
	checker.Register("postgres", health.PingCheck("postgres", 2*time.Second, db.Ping))
	return db, nil
}

func (a *app) runJoin(ctx context.Context, stdout io.Writer) error {
	cfg := a.cfg
	res := &resources{}
	defer res.close()

	opts, err := joinOptions(cfg.Join)
	if err != nil {
		return err
	}
	input, err := a.openInput(res)
	if err != nil {
		return err
	}
	out, report, err := a.openSink(ctx, res, stdout)
	if err != nil {
		return err
	}

	popts := []pipeline.Option{pipeline.WithMetrics(a.metrics), pipeline.WithHealth(a.checker)}
	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		res.add(rc.Close)
		a.checker.Register("redis", health.PingCheck("redis", 2*time.Second, rc.Ping))
		popts = append(popts, pipeline.WithCache(cache.New(rc, cfg.Redis.CacheTTL)))
	}

	p := pipeline.New(pipeline.Config{
		Options:      opts,
		Shards:       cfg.Join.Shards,
		Parallelism:  cfg.Join.Parallelism,
		SnapshotPath: cfg.Snapshot.Path,
		SinkName:     cfg.Output.Sink,
		Trace:        cfg.Tracing.Enabled,
	}, input, out, popts...)

	result, err := p.Run(ctx)
	if err != nil {
		return err
	}
	if report != nil {
		return report(result)
	}
	return nil
}

func joinOptions(cfg config.JoinConfig) (join.Options, error) {
	sim, err := similarity.Parse(cfg.Similarity)
	if err != nil {
		return join.Options{}, err
	}
	filter, err := lengthfilter.Parse(cfg.LengthFilter)
	if err != nil {
		return join.Options{}, err
	}
	opts := join.Options{
		Similarity:   sim,
		Threshold:    cfg.Threshold,
		LengthFilter: filter,
	}
	if cfg.Strategy != "" {
		if opts.Strategy, err = index.ParseStrategy(cfg.Strategy); err != nil {
			return join.Options{}, err
		}
	}
	return opts, nil
}

// openInput builds the sources named by the input config. Text inputs share
// one dictionary so both sides of a foreign join use the same token ids.
func (a *app) openInput(res *resources) (pipeline.Input, error) {
	cfg := a.cfg.Input
	in := pipeline.Input{PreRanked: cfg.PreRanked}
	switch cfg.Format {
	case "snapshot":
		in.Snapshot = cfg.Path
		return in, nil
	case "postgres":
		db, err := res.postgres(a.cfg.Postgres, a.checker)
		if err != nil {
			return in, err
		}
		in.Indexed = source.NewPostgres(db, cfg.Query)
		if cfg.ForeignQuery != "" {
			in.Foreign = source.NewPostgres(db, cfg.ForeignQuery)
		}
		return in, nil
	}

	dict := tokenizer.NewDictionary()
	open := func(path string) (source.Source, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitInput, "opening %s: %v", path, err)
		}
		res.add(f.Close)
		if cfg.Format == "text" {
			return source.NewTextLines(f, dict, tokenizer.DefaultOptions()), nil
		}
		return source.NewIntLines(f), nil
	}
	var err error
	if in.Indexed, err = open(cfg.Path); err != nil {
		return in, err
	}
	if cfg.ForeignPath != "" {
		if in.Foreign, err = open(cfg.ForeignPath); err != nil {
			return in, err
		}
	}
	return in, nil
}

// openSink builds the configured sink. report, when not nil, prints what an
// in-memory sink gathered once the run is over.
func (a *app) openSink(ctx context.Context, res *resources, stdout io.Writer) (sink.Sink, func(*pipeline.Result) error, error) {
	cfg := a.cfg.Output
	retry := resilience.RetryConfig{
		MaxAttempts:    cfg.Retries,
		InitialDelay:   cfg.RetryWait,
		MaxDelay:       10 * cfg.RetryWait,
		Multiplier:     2,
		JitterFraction: 0.1,
	}
	format := sink.Format(cfg.Format)

	switch cfg.Sink {
	case "stdout":
		return sink.NewWriter(nopCloser{stdout}, format), nil, nil
	case "file":
		f, err := os.Create(cfg.Path)
		if err != nil {
			return nil, nil, apperrors.Newf(apperrors.ErrSinkFailed, apperrors.ExitOutput, "creating %s: %v", cfg.Path, err)
		}
		return sink.NewWriter(f, format), nil, nil
	case "count":
		counter := &sink.Counter{}
		return counter, func(*pipeline.Result) error {
			_, err := fmt.Fprintln(stdout, counter.Count())
			return err
		}, nil
	case "topk":
		top := sink.NewTopK(cfg.TopK)
		return top, func(*pipeline.Result) error {
			w := sink.NewWriter(nopCloser{stdout}, format)
			if err := sink.Replay(context.Background(), w, top.Pairs()); err != nil {
				return err
			}
			return w.Close(context.Background())
		}, nil
	case "kafka":
		producer := kafka.NewProducer(a.cfg.Kafka, cfg.Topic)
		res.add(producer.Close)
		a.checker.Register("kafka", health.PingCheck("kafka", 2*time.Second, producer.Ping))
		return sink.NewKafka(producer, cfg.BatchSize, retry), nil, nil
	case "postgres":
		db, err := res.postgres(a.cfg.Postgres, a.checker)
		if err != nil {
			return nil, nil, err
		}
		if err := db.EnsurePairTable(ctx, cfg.Table); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", apperrors.ErrSinkFailed, err)
		}
		return sink.NewPostgres(db, cfg.Table, cfg.BatchSize, retry), nil, nil
	}
	return nil, nil, apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitConfig, "unknown sink %q", cfg.Sink)
}

// nopCloser keeps sink.Writer from closing stdout.
type nopCloser struct{ w io.Writer }

func (n nopCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
