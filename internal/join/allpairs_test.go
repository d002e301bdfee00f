package join

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/candidate"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/dataset"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/index"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/lengthfilter"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/similarity"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/verify"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/logger"
)

type pair struct{ probe, indexed int }

func newJoin(t *testing.T, opts Options) *AllPairs {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	a, err := New(opts)
	require.NoError(t, err)
	return a
}

// runJoin feeds copies of the records through every phase and collects the
// emitted pairs by caller-side record id.
func runJoin(t *testing.T, a *AllPairs, indexed, foreign [][]dataset.Token, raw bool) []pair {
	t.Helper()
	for _, rec := range indexed {
		toks := slices.Clone(rec)
		if raw {
			require.NoError(t, a.AddRawRecord(&toks))
		} else {
			require.NoError(t, a.AddRecord(&toks))
		}
	}
	for _, rec := range foreign {
		toks := slices.Clone(rec)
		if raw {
			require.NoError(t, a.AddRawForeignRecord(&toks))
		} else {
			require.NoError(t, a.AddForeignRecord(&toks))
		}
	}
	require.NoError(t, a.PrepareRecords())
	if foreign != nil {
		require.NoError(t, a.PrepareForeignRecords())
	}
	require.NoError(t, a.PrepareFinished())
	require.NoError(t, a.Index())

	var pairs []pair
	err := a.Join(context.Background(), OutputFunc(func(probe, ind dataset.Record) error {
		pairs = append(pairs, pair{probe.ID, ind.ID})
		return nil
	}))
	require.NoError(t, err)
	return pairs
}

// unordered canonicalises self-join pairs so the smaller id comes first.
func unordered(pairs []pair) []pair {
	out := make([]pair, len(pairs))
	for i, p := range pairs {
		if p.probe > p.indexed {
			p.probe, p.indexed = p.indexed, p.probe
		}
		out[i] = p
	}
	slices.SortFunc(out, comparePairs)
	return out
}

func comparePairs(a, b pair) int {
	if a.probe != b.probe {
		return a.probe - b.probe
	}
	return a.indexed - b.indexed
}

func dedup(rec []dataset.Token) []dataset.Token {
	out := slices.Clone(rec)
	slices.Sort(out)
	return slices.Compact(out)
}

func bruteForceSelf(sim similarity.Similarity, th float64, records [][]dataset.Token) []pair {
	var out []pair
	for i := range records {
		for j := i + 1; j < len(records); j++ {
			a, b := dedup(records[i]), dedup(records[j])
			if sim.Score(verify.Count(a, b), len(a), len(b)) >= th-1e-9 {
				out = append(out, pair{i, j})
			}
		}
	}
	return out
}

func bruteForceForeign(sim similarity.Similarity, th float64, indexed, foreign [][]dataset.Token) []pair {
	var out []pair
	for f := range foreign {
		for i := range indexed {
			a, b := dedup(foreign[f]), dedup(indexed[i])
			if sim.Score(verify.Count(a, b), len(a), len(b)) >= th-1e-9 {
				out = append(out, pair{f, i})
			}
		}
	}
	slices.SortFunc(out, comparePairs)
	return out
}

// randomRecords draws skewed token ids so that frequent tokens exist and
// prefixes actually prune.
func randomRecords(rng *rand.Rand, n, vocab, maxLen int) [][]dataset.Token {
	out := make([][]dataset.Token, n)
	for i := range out {
		size := rng.Intn(maxLen + 1)
		rec := make([]dataset.Token, 0, size)
		for j := 0; j < size; j++ {
			tok := rng.Intn(vocab)
			if rng.Intn(3) == 0 {
				tok = rng.Intn(4)
			}
			rec = append(rec, dataset.Token(tok))
		}
		out[i] = rec
	}
	// Near-duplicates give the higher thresholds something to find.
	for i := 0; i+1 < n; i += 7 {
		dup := slices.Clone(out[i])
		if len(dup) > 0 && rng.Intn(2) == 0 {
			dup[rng.Intn(len(dup))] = dataset.Token(rng.Intn(vocab))
		}
		out[i+1] = dup
	}
	return out
}

func TestJaccardSelfJoinExample(t *testing.T) {
	a := newJoin(t, Options{Similarity: similarity.Jaccard{}, Threshold: 0.5})
	records := [][]dataset.Token{
		{1, 2, 3, 4},
		{2, 3, 4, 5},
		{10, 11},
	}
	pairs := runJoin(t, a, records, nil, false)
	assert.Equal(t, []pair{{0, 1}}, unordered(pairs))
	assert.Equal(t, uint64(1), a.Stats().PairsEmitted)
	assert.Equal(t, uint64(3), a.Stats().Probes)
}

func TestSingleRecordProducesNothing(t *testing.T) {
	a := newJoin(t, Options{Threshold: 0.8})
	pairs := runJoin(t, a, [][]dataset.Token{{1, 2, 3}}, nil, false)
	assert.Empty(t, pairs)
}

func TestIdenticalRecordsJoinAtThresholdOne(t *testing.T) {
	for _, sim := range []similarity.Similarity{similarity.Jaccard{}, similarity.Cosine{}, similarity.Dice{}, similarity.Overlap{}} {
		t.Run(sim.Name(), func(t *testing.T) {
			a := newJoin(t, Options{Similarity: sim, Threshold: 1})
			pairs := runJoin(t, a, [][]dataset.Token{{7, 8, 9}, {9, 8, 7, 7}}, nil, false)
			assert.Equal(t, []pair{{0, 1}}, unordered(pairs))
		})
	}
}

func TestThresholdBoundaryIsInclusive(t *testing.T) {
	// |A ∩ B| = 2, |A ∪ B| = 6: Jaccard exactly 1/3.
	records := [][]dataset.Token{{1, 2, 3, 4}, {3, 4, 5, 6}}

	a := newJoin(t, Options{Threshold: 1.0 / 3})
	assert.Len(t, runJoin(t, a, records, nil, false), 1)

	b := newJoin(t, Options{Threshold: 0.34})
	assert.Empty(t, runJoin(t, b, records, nil, false))
}

func TestEmptyIndexedCollection(t *testing.T) {
	a := newJoin(t, Options{Strategy: index.PreBuilt{}, Threshold: 0.5})
	pairs := runJoin(t, a, nil, [][]dataset.Token{{1, 2}}, false)
	assert.Empty(t, pairs)
	assert.Zero(t, a.Stats().Probes)
}

func TestEmptyRecordsNeverMatch(t *testing.T) {
	a := newJoin(t, Options{Threshold: 0.1})
	pairs := runJoin(t, a, [][]dataset.Token{{}, {}, {1}}, nil, false)
	assert.Empty(t, pairs)
}

// Pre-ranked records where the probe's last prefix token equals the
// candidate's last indexed token. Both merges start after the shared token.
func TestEqualLastPrefixTokens(t *testing.T) {
	// Indexed first (shorter): {1,5} has index prefix {1}. The probe
	// {0,1,5} has probing prefix {0,1}, ending on the same token.
	a := newJoin(t, Options{Threshold: 0.5})
	pairs := runJoin(t, a, [][]dataset.Token{{1, 5}, {0, 1, 5}}, nil, true)
	assert.Equal(t, []pair{{0, 1}}, unordered(pairs))

	b := newJoin(t, Options{Threshold: 0.5})
	pairs = runJoin(t, b, [][]dataset.Token{{1, 5}, {0, 1, 6}}, nil, true)
	assert.Empty(t, pairs)
	assert.Equal(t, uint64(1), b.Stats().CandidatesVerified)
}

func TestSelfJoinMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	records := randomRecords(rng, 160, 40, 12)
	sims := []similarity.Similarity{similarity.Jaccard{}, similarity.Cosine{}, similarity.Dice{}, similarity.Overlap{}}
	filters := []lengthfilter.Policy{lengthfilter.Default{}, lengthfilter.Positional{}}

	for _, sim := range sims {
		for _, filter := range filters {
			for _, th := range []float64{0.3, 0.5, 0.7, 0.9, 1} {
				name := fmt.Sprintf("%s/%s/%.1f", sim.Name(), filter.Name(), th)
				t.Run(name, func(t *testing.T) {
					a := newJoin(t, Options{Similarity: sim, Threshold: th, LengthFilter: filter})
					got := runJoin(t, a, records, nil, false)

					seen := map[pair]bool{}
					for _, p := range got {
						require.NotEqual(t, p.probe, p.indexed, "record joined with itself")
						key := unordered([]pair{p})[0]
						require.False(t, seen[key], "pair %v emitted twice", key)
						seen[key] = true
					}
					want := bruteForceSelf(sim, th, records)
					assert.Equal(t, len(want), len(got))
					if len(want) > 0 {
						assert.Equal(t, want, unordered(got))
					}
				})
			}
		}
	}
}

func TestForeignJoinMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	indexed := randomRecords(rng, 120, 30, 10)
	foreign := randomRecords(rng, 80, 45, 14)
	// Share a few records across the sides.
	copy(foreign[:5], indexed[:5])

	sims := []similarity.Similarity{similarity.Jaccard{}, similarity.Cosine{}, similarity.Dice{}, similarity.Overlap{}}
	filters := []lengthfilter.Policy{lengthfilter.Default{}, lengthfilter.Positional{}}

	for _, sim := range sims {
		for _, filter := range filters {
			for _, th := range []float64{0.4, 0.6, 0.8, 1} {
				name := fmt.Sprintf("%s/%s/%.1f", sim.Name(), filter.Name(), th)
				t.Run(name, func(t *testing.T) {
					a := newJoin(t, Options{
						Similarity:   sim,
						Threshold:    th,
						Strategy:     index.PreBuilt{},
						LengthFilter: filter,
					})
					got := runJoin(t, a, indexed, foreign, false)
					slices.SortFunc(got, comparePairs)
					want := bruteForceForeign(sim, th, indexed, foreign)
					assert.Equal(t, len(want), len(got))
					if len(want) > 0 {
						assert.Equal(t, want, got)
					}
				})
			}
		}
	}
}

func TestCandidateSlotsClearedAfterEveryProbe(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	records := randomRecords(rng, 100, 20, 8)
	a := newJoin(t, Options{Threshold: 0.4})
	probes := 0
	a.probed = func(recind int, cands *candidate.Set) {
		probes++
		require.Zero(t, cands.Len())
		for id := int32(0); id < int32(len(records)); id++ {
			require.Zero(t, cands.Count(id), "slot %d after probe %d", id, recind)
		}
	}
	runJoin(t, a, records, nil, false)
	assert.Equal(t, len(records), probes)
}

func TestJoinStopsOnCancelledContext(t *testing.T) {
	a := newJoin(t, Options{Threshold: 0.5})
	toks := []dataset.Token{1, 2}
	require.NoError(t, a.AddRecord(&toks))
	require.NoError(t, a.PrepareRecords())
	require.NoError(t, a.PrepareFinished())
	require.NoError(t, a.Index())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.Join(ctx, OutputFunc(func(dataset.Record, dataset.Record) error { return nil }))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutputErrorAbortsJoin(t *testing.T) {
	a := newJoin(t, Options{Threshold: 0.5})
	for _, rec := range [][]dataset.Token{{1, 2}, {1, 2}, {1, 2}} {
		toks := slices.Clone(rec)
		require.NoError(t, a.AddRecord(&toks))
	}
	require.NoError(t, a.PrepareRecords())
	require.NoError(t, a.PrepareFinished())
	require.NoError(t, a.Index())

	boom := errors.New("disk full")
	calls := 0
	err := a.Join(context.Background(), OutputFunc(func(dataset.Record, dataset.Record) error {
		calls++
		return boom
	}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestPhaseOrderIsEnforced(t *testing.T) {
	a := newJoin(t, Options{Threshold: 0.5})
	assert.ErrorIs(t, a.Index(), apperrors.ErrPhase)
	assert.ErrorIs(t, a.PrepareFinished(), apperrors.ErrPhase)
	assert.ErrorIs(t, a.PrepareForeignRecords(), apperrors.ErrPhase)

	require.NoError(t, a.PrepareRecords())
	toks := []dataset.Token{1}
	assert.ErrorIs(t, a.AddRecord(&toks), apperrors.ErrPhase)
	assert.ErrorIs(t, a.PrepareRecords(), apperrors.ErrPhase)
	require.NoError(t, a.PrepareFinished())

	err := a.Join(context.Background(), OutputFunc(func(dataset.Record, dataset.Record) error { return nil }))
	assert.ErrorIs(t, err, apperrors.ErrPhase)
	require.NoError(t, a.Index())
	require.NoError(t, a.Join(context.Background(), OutputFunc(func(dataset.Record, dataset.Record) error { return nil })))
	err = a.Join(context.Background(), OutputFunc(func(dataset.Record, dataset.Record) error { return nil }))
	assert.ErrorIs(t, err, apperrors.ErrPhase)
}

func TestAddRecordTakesOwnership(t *testing.T) {
	a := newJoin(t, Options{Threshold: 0.5})
	toks := []dataset.Token{3, 1, 2}
	require.NoError(t, a.AddRecord(&toks))
	assert.Nil(t, toks)
}

func TestSelfJoinRejectsForeignRecords(t *testing.T) {
	a := newJoin(t, Options{Threshold: 0.5})
	ind, fgn := []dataset.Token{1}, []dataset.Token{1}
	require.NoError(t, a.AddRecord(&ind))
	require.NoError(t, a.AddForeignRecord(&fgn))
	require.NoError(t, a.PrepareRecords())
	require.NoError(t, a.PrepareForeignRecords())
	err := a.PrepareFinished()
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestInvalidThresholdRejected(t *testing.T) {
	for _, th := range []float64{0, -0.1, 1.5} {
		_, err := New(Options{Threshold: th})
		assert.ErrorIs(t, err, apperrors.ErrInvalidThreshold, "threshold %v", th)
	}
}

func TestLoadDatasetSkipsPreparation(t *testing.T) {
	ds := dataset.Dataset{
		Indexed: []dataset.Record{
			{ID: 10, Tokens: []dataset.Token{0, 1}},
			{ID: 11, Tokens: []dataset.Token{0, 1, 2}},
		},
		MaxToken: 2,
	}
	a := newJoin(t, Options{Threshold: 0.6})
	require.NoError(t, a.LoadDataset(ds))
	require.NoError(t, a.Index())
	var pairs []pair
	require.NoError(t, a.Join(context.Background(), OutputFunc(func(p, i dataset.Record) error {
		pairs = append(pairs, pair{p.ID, i.ID})
		return nil
	})))
	assert.Equal(t, []pair{{11, 10}}, pairs)
}

func TestStatisticsAdd(t *testing.T) {
	s := Statistics{Probes: 1, PairsEmitted: 2}
	s.Add(Statistics{Probes: 3, Lookups: 4, PairsEmitted: 1})
	assert.Equal(t, Statistics{Probes: 4, Lookups: 4, PairsEmitted: 3}, s)
}
