package index

import (
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/dataset"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/similarity"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
)

// Strategy decides when records enter the index and which index entries a
// probe may pair with.
type Strategy interface {
	Name() string
	// SelfJoin reports whether the probe collection is the indexed collection.
	SelfJoin() bool
	// Build runs once before the first probe.
	Build(ix *Index, records []dataset.Record, sim similarity.Similarity, t float64)
	// Probed runs after probe record id has been fully verified.
	Probed(ix *Index, id int, rec dataset.Record, sim similarity.Similarity, t float64)
	// Accept is the record-index checker. Once it rejects an entry it rejects
	// every later entry of the same list.
	Accept(probeID, candidateID int) bool
}

// PreBuilt indexes every record up front; used for foreign joins. Probes can
// be shorter or longer than indexed records, so records are indexed under the
// full probing prefix.
type PreBuilt struct{}

func (PreBuilt) Name() string { return "prebuilt" }

func (PreBuilt) SelfJoin() bool { return false }

func (PreBuilt) Build(ix *Index, records []dataset.Record, sim similarity.Similarity, t float64) {
	for id, rec := range records {
		ix.Insert(id, rec.Tokens, sim.MaxPrefix(rec.Len(), t))
	}
}

func (PreBuilt) Probed(*Index, int, dataset.Record, similarity.Similarity, float64) {}

func (PreBuilt) Accept(int, int) bool { return true }

// OnTheFly probes record i against records 0..i-1 and then inserts it, so
// each unordered pair is considered once. Because probes arrive in length
// order every indexed record is no longer than the probe, and the shorter
// mid prefix suffices.
type OnTheFly struct{}

func (OnTheFly) Name() string { return "onthefly" }

func (OnTheFly) SelfJoin() bool { return true }

func (OnTheFly) Build(*Index, []dataset.Record, similarity.Similarity, float64) {}

func (OnTheFly) Probed(ix *Index, id int, rec dataset.Record, sim similarity.Similarity, t float64) {
	ix.Insert(id, rec.Tokens, sim.MidPrefix(rec.Len(), t))
}

func (OnTheFly) Accept(probeID, candidateID int) bool {
	return candidateID < probeID
}

func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "self", "onthefly", "on-the-fly":
		return OnTheFly{}, nil
	case "foreign", "prebuilt", "pre-built":
		return PreBuilt{}, nil
	default:
		return nil, fmt.Errorf("strategy %q: %w", name, apperrors.ErrUnknownStrategy)
	}
}
