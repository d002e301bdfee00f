// Package join implements the AllPairs set-similarity join: an inverted index
// over frequency-ranked tokens, probed with prefix and length filtering, with
// candidates confirmed by a suffix merge.
package join

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/candidate"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/dataset"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/index"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/lengthfilter"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/similarity"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/verify"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
)

// checkpointEvery is how many probe records run between context checks.
const checkpointEvery = 256

type phase int

const (
	phaseCollecting phase = iota
	phaseIndexedPrepared
	phaseForeignPrepared
	phasePrepared
	phaseIndexed
	phaseJoined
)

// AllPairs is one join instance. It owns its records, index and candidate
// set and is not safe for concurrent use; run independent instances in
// parallel instead.
type AllPairs struct {
	sim       similarity.Similarity
	threshold float64
	strategy  index.Strategy
	filter    lengthfilter.Policy
	logger    *slog.Logger

	ranker *dataset.Ranker
	data   dataset.Dataset
	idx    *index.Index
	phase  phase
	stats  Statistics

	// probed, when set, sees the candidate set after each probe is cleared.
	probed func(recind int, cands *candidate.Set)
}

// New validates opts and returns an empty join. The threshold is checked
// here, never inside the join loop.
func New(opts Options) (*AllPairs, error) {
	opts = opts.withDefaults()
	if err := opts.Similarity.Validate(opts.Threshold); err != nil {
		return nil, err
	}
	return &AllPairs{
		sim:       opts.Similarity,
		threshold: opts.Threshold,
		strategy:  opts.Strategy,
		filter:    opts.LengthFilter,
		logger:    opts.Logger,
		ranker:    dataset.NewRanker(),
	}, nil
}

// AddRecord consumes *tokens as an indexed record; *tokens is nil afterwards.
func (a *AllPairs) AddRecord(tokens *[]dataset.Token) error {
	return a.ranker.AddRecord(tokens)
}

// AddForeignRecord consumes *tokens as a probe record of a foreign join.
func (a *AllPairs) AddForeignRecord(tokens *[]dataset.Token) error {
	return a.ranker.AddForeignRecord(tokens)
}

// AddRawRecord consumes *tokens that are already frequency ranked.
func (a *AllPairs) AddRawRecord(tokens *[]dataset.Token) error {
	return a.ranker.AddRawRecord(tokens)
}

func (a *AllPairs) AddRawForeignRecord(tokens *[]dataset.Token) error {
	return a.ranker.AddRawForeignRecord(tokens)
}

// PrepareRecords ranks the indexed records. It must complete before indexing.
func (a *AllPairs) PrepareRecords() error {
	if a.phase != phaseCollecting {
		return fmt.Errorf("prepare records: %w", apperrors.ErrPhase)
	}
	if err := a.ranker.PrepareIndexed(); err != nil {
		return fmt.Errorf("prepare records: %w", err)
	}
	a.phase = phaseIndexedPrepared
	return nil
}

func (a *AllPairs) PrepareForeignRecords() error {
	if a.phase != phaseIndexedPrepared {
		return fmt.Errorf("prepare foreign records: %w", apperrors.ErrPhase)
	}
	if err := a.ranker.PrepareForeign(); err != nil {
		return fmt.Errorf("prepare foreign records: %w", err)
	}
	a.phase = phaseForeignPrepared
	return nil
}

// PrepareFinished releases the remapping tables.
func (a *AllPairs) PrepareFinished() error {
	if a.phase != phaseIndexedPrepared && a.phase != phaseForeignPrepared {
		return fmt.Errorf("prepare finished: %w", apperrors.ErrPhase)
	}
	ds, err := a.ranker.Finish()
	if err != nil {
		return fmt.Errorf("prepare finished: %w", err)
	}
	a.ranker = nil
	return a.setDataset(ds)
}

// LoadDataset skips the add/prepare phases with an already prepared dataset,
// for example one read back from a snapshot or one partition of it. The
// records are shared, never modified.
func (a *AllPairs) LoadDataset(ds dataset.Dataset) error {
	if a.phase != phaseCollecting {
		return fmt.Errorf("load dataset: %w", apperrors.ErrPhase)
	}
	a.ranker = nil
	return a.setDataset(ds)
}

func (a *AllPairs) setDataset(ds dataset.Dataset) error {
	if a.strategy.SelfJoin() && len(ds.Foreign) > 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitInput,
			"self join given %d foreign records", len(ds.Foreign))
	}
	a.data = ds
	a.phase = phasePrepared
	a.logger.Info("records prepared",
		"indexed", len(ds.Indexed),
		"foreign", len(ds.Foreign),
		"max_token", ds.MaxToken,
		"max_len", ds.MaxLen(),
	)
	return nil
}

// Dataset is the prepared input; valid once preparation has finished.
func (a *AllPairs) Dataset() dataset.Dataset { return a.data }

// Index builds the inverted index. For on-the-fly indexing this only
// allocates it; records enter during Join.
func (a *AllPairs) Index() error {
	if a.phase != phasePrepared {
		return fmt.Errorf("index: %w", apperrors.ErrPhase)
	}
	start := time.Now()
	a.idx = index.New(a.data.MaxToken, len(a.data.Indexed))
	a.strategy.Build(a.idx, a.data.Indexed, a.sim, a.threshold)
	a.phase = phaseIndexed
	a.logger.Info("index built",
		"strategy", a.strategy.Name(),
		"entries", a.idx.Entries(),
		"duration", time.Since(start),
	)
	return nil
}

// Stats returns the counters so far, with the current index size.
func (a *AllPairs) Stats() Statistics {
	s := a.stats
	if a.idx != nil {
		s.IndexEntries = uint64(a.idx.Entries())
	}
	return s
}

// overlapCache holds, per candidate length, the required overlap with the
// current probe and the probe position where collection for that length
// stops. It is rebuilt only when the probe length changes.
type overlapCache struct {
	probeLen   int
	minOverlap []int
	probeStart []int
}

func (c *overlapCache) rebuild(a *AllPairs, recLen, minSize, maxFeasible, maxPrefix int) {
	c.probeLen = recLen
	if cap(c.minOverlap) < maxFeasible+1 {
		c.minOverlap = make([]int, maxFeasible+1)
		c.probeStart = make([]int, maxFeasible+1)
	}
	c.minOverlap = c.minOverlap[:maxFeasible+1]
	c.probeStart = c.probeStart[:maxFeasible+1]
	for l := minSize; l <= maxFeasible; l++ {
		ov := a.sim.MinOverlap(recLen, l, a.threshold)
		c.minOverlap[l] = ov
		c.probeStart[l] = a.filter.ProbeStart(recLen, maxPrefix, ov)
	}
}

// Join probes every probe record against the index and hands each pair
// whose similarity reaches the threshold to out. The context is checked
// between probe records only; an error from out stops the join and is
// returned wrapped.
func (a *AllPairs) Join(ctx context.Context, out HandleOutput) error {
	if a.phase != phaseIndexed {
		return fmt.Errorf("join: %w", apperrors.ErrPhase)
	}
	a.phase = phaseJoined

	indexed := a.data.Indexed
	if len(indexed) == 0 {
		a.logger.Info("no indexed records, nothing to join")
		return nil
	}
	probes := a.data.Foreign
	self := a.strategy.SelfJoin()
	if self {
		probes = indexed
	}

	start := time.Now()
	maxLen := a.data.MaxLen()
	cands := candidate.NewSet(len(indexed))
	cache := overlapCache{probeLen: -1}

	for recind := range probes {
		if recind%checkpointEvery == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("join stopped before probe %d of %d: %w", recind, len(probes), err)
			}
		}
		rec := &probes[recind]
		recLen := rec.Len()
		a.stats.Probes++

		minSize := a.sim.MinSize(recLen, a.threshold)
		maxFeasible := recLen
		if !self {
			maxFeasible = a.sim.MaxSize(recLen, a.threshold, maxLen)
		}
		maxPrefix := a.sim.MaxPrefix(recLen, a.threshold)
		if cache.probeLen != recLen {
			cache.rebuild(a, recLen, minSize, maxFeasible, maxPrefix)
		}

		for pos := 0; pos < maxPrefix; pos++ {
			cur := a.idx.Lookup(rec.Tokens[pos])
			a.stats.Lookups++
			cur.SkipShorter(minSize)
			for ; !cur.AtEnd(); cur.Advance() {
				entry := cur.Entry()
				if !a.strategy.Accept(recind, int(entry.RecordID)) {
					break
				}
				indLen := int(entry.Length)
				if indLen > maxFeasible || pos >= cache.probeStart[indLen] {
					break
				}
				a.stats.IndexEntriesSeen++
				*cands.GetOrCreate(entry.RecordID)++
			}
		}
		a.stats.CandidatesPrefixFilter += uint64(cands.Len())

		for _, cid := range cands.IDs() {
			a.stats.CandidatesVerified++
			count := int(cands.Count(cid))
			indRec := &indexed[cid]
			indLen := indRec.Len()
			minOverlap := cache.minOverlap[indLen]

			lastPosInd := a.idx.PrefixLen(int(cid))
			lastPosProbe := cache.probeStart[indLen]

			// Start the merge on the side whose prefix ends on the smaller
			// token; the prefix count already covers everything before it.
			// Equal last tokens take the second branch.
			var recPos, indPos int
			if rec.Tokens[lastPosProbe-1] > indRec.Tokens[lastPosInd-1] {
				recPos, indPos = count, lastPosInd
			} else {
				recPos, indPos = lastPosProbe, count
			}

			if verify.Overlap(rec.Tokens, indRec.Tokens, minOverlap, recPos, indPos, count) {
				a.stats.PairsEmitted++
				if err := out.AddPair(*rec, *indRec); err != nil {
					cands.Clear()
					return fmt.Errorf("emitting pair (%d, %d): %w", rec.ID, indRec.ID, err)
				}
			}
			cands.Reset(cid)
		}
		cands.Clear()
		if a.probed != nil {
			a.probed(recind, cands)
		}

		a.strategy.Probed(a.idx, recind, *rec, a.sim, a.threshold)
	}

	a.logger.Info("join finished",
		"similarity", a.sim.Name(),
		"threshold", a.threshold,
		"probes", a.stats.Probes,
		"lookups", a.stats.Lookups,
		"candidates", a.stats.CandidatesPrefixFilter,
		"pairs", a.stats.PairsEmitted,
		"duration", time.Since(start),
	)
	return nil
}
