package join

import (
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/dataset"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/index"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/lengthfilter"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/similarity"
)

// Options fix the behaviour of one join instance for its whole lifetime.
type Options struct {
	Similarity   similarity.Similarity
	Threshold    float64
	Strategy     index.Strategy
	LengthFilter lengthfilter.Policy
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Similarity == nil {
		o.Similarity = similarity.Jaccard{}
	}
	if o.Strategy == nil {
		o.Strategy = index.OnTheFly{}
	}
	if o.LengthFilter == nil {
		o.LengthFilter = lengthfilter.Default{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default().With("component", "allpairs")
	}
	return o
}

// HandleOutput receives every confirmed pair. probe is the record being
// processed; indexed is the earlier-indexed partner. For self joins both come
// from the indexed collection. An error aborts the join.
type HandleOutput interface {
	AddPair(probe, indexed dataset.Record) error
}

// OutputFunc adapts a function to HandleOutput.
type OutputFunc func(probe, indexed dataset.Record) error

func (f OutputFunc) AddPair(probe, indexed dataset.Record) error {
	return f(probe, indexed)
}

// Statistics are the counters the join increments. Nothing in the join reads
// them back.
type Statistics struct {
	Probes                 uint64 `json:"probes"`
	Lookups                uint64 `json:"lookups"`
	IndexEntriesSeen       uint64 `json:"index_entries_seen"`
	CandidatesPrefixFilter uint64 `json:"candidates_prefix_filter"`
	CandidatesVerified     uint64 `json:"candidates_verified"`
	PairsEmitted           uint64 `json:"pairs_emitted"`
	// IndexEntries is the size of the inverted index; summed over shards it
	// counts every shard's copy.
	IndexEntries uint64 `json:"index_entries"`
}

// Add sums other into s; used when several join instances run side by side.
func (s *Statistics) Add(other Statistics) {
	s.Probes += other.Probes
	s.Lookups += other.Lookups
	s.IndexEntriesSeen += other.IndexEntriesSeen
	s.CandidatesPrefixFilter += other.CandidatesPrefixFilter
	s.CandidatesVerified += other.CandidatesVerified
	s.PairsEmitted += other.PairsEmitted
	s.IndexEntries += other.IndexEntries
}
