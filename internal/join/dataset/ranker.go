package dataset

import (
	"cmp"
	"fmt"
	"slices"

	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
)

type rankerState int

const (
	stateCollecting rankerState = iota
	stateIndexedPrepared
	stateForeignPrepared
	stateFinished
)

type pending struct {
	tokens []Token
	ranked bool
}

// Ranker collects records, then remaps their tokens so that ids follow
// ascending global frequency over the indexed collection. The ordering is
// what makes the prefix filter sound: both sides of every comparison sort
// their tokens by the same global order.
type Ranker struct {
	indexed []pending
	foreign []pending
	state   rankerState

	// rank maps raw token ids to dense ids; nil once Finish has run or when
	// the records arrived pre-ranked.
	rank    map[Token]Token
	nextID  Token
	ranked  bool
	dataset Dataset
}

func NewRanker() *Ranker {
	return &Ranker{dataset: Dataset{MaxToken: -1}}
}

// AddRecord takes ownership of *tokens (raw ids) as an indexed record and
// leaves the caller's slice nil.
func (r *Ranker) AddRecord(tokens *[]Token) error {
	return r.add(&r.indexed, tokens, false)
}

// AddForeignRecord takes ownership of *tokens (raw ids) as a probe record of a
// foreign join and leaves the caller's slice nil.
func (r *Ranker) AddForeignRecord(tokens *[]Token) error {
	return r.add(&r.foreign, tokens, false)
}

// AddRawRecord takes ownership of *tokens that are already frequency ranked.
// They are only deduplicated and sorted.
func (r *Ranker) AddRawRecord(tokens *[]Token) error {
	return r.add(&r.indexed, tokens, true)
}

func (r *Ranker) AddRawForeignRecord(tokens *[]Token) error {
	return r.add(&r.foreign, tokens, true)
}

func (r *Ranker) add(dst *[]pending, tokens *[]Token, ranked bool) error {
	if r.state != stateCollecting {
		return fmt.Errorf("adding record after prepare: %w", apperrors.ErrPhase)
	}
	var owned []Token
	if tokens != nil {
		owned = *tokens
		*tokens = nil
	}
	*dst = append(*dst, pending{tokens: owned, ranked: ranked})
	return nil
}

// IndexedCount and ForeignCount report how many records were added.
func (r *Ranker) IndexedCount() int { return len(r.indexed) }

func (r *Ranker) ForeignCount() int { return len(r.foreign) }

// PrepareIndexed ranks tokens by frequency over the indexed records, remaps
// and sorts every indexed record, and orders the collection by length.
func (r *Ranker) PrepareIndexed() error {
	if r.state != stateCollecting {
		return fmt.Errorf("preparing indexed records twice: %w", apperrors.ErrPhase)
	}
	ranked, err := uniformRanking(r.indexed, r.foreign)
	if err != nil {
		return err
	}
	r.ranked = ranked

	records := make([]Record, len(r.indexed))
	for i := range r.indexed {
		records[i] = Record{ID: i, Tokens: normalize(r.indexed[i].tokens)}
	}
	r.indexed = nil

	if !ranked {
		r.buildRanking(records)
		for i := range records {
			for j, tok := range records[i].Tokens {
				records[i].Tokens[j] = r.rank[tok]
			}
			slices.Sort(records[i].Tokens)
		}
		r.dataset.MaxToken = int(r.nextID) - 1
	} else {
		for _, rec := range records {
			if n := rec.Len(); n > 0 {
				r.dataset.MaxToken = max(r.dataset.MaxToken, int(rec.Tokens[n-1]))
			}
		}
	}

	sortByLength(records)
	r.dataset.Indexed = records
	r.state = stateIndexedPrepared
	return nil
}

// buildRanking assigns dense ids by (frequency asc, raw id asc). Each token
// counts once per record; records are already deduplicated.
func (r *Ranker) buildRanking(records []Record) {
	freq := make(map[Token]int)
	for _, rec := range records {
		for _, tok := range rec.Tokens {
			freq[tok]++
		}
	}
	order := make([]Token, 0, len(freq))
	for tok := range freq {
		order = append(order, tok)
	}
	slices.SortFunc(order, func(a, b Token) int {
		if c := cmp.Compare(freq[a], freq[b]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	r.rank = make(map[Token]Token, len(order))
	for i, tok := range order {
		r.rank[tok] = Token(i)
	}
	r.nextID = Token(len(order))
}

// PrepareForeign remaps the foreign records with the indexed ranking and keeps
// them in collection order, which is the order they are probed in. Tokens
// absent from the indexed collection cannot produce matches; they get fresh
// ids above every indexed id, ordered by raw id.
func (r *Ranker) PrepareForeign() error {
	if r.state != stateIndexedPrepared {
		return fmt.Errorf("preparing foreign records before indexed records: %w", apperrors.ErrPhase)
	}
	records := make([]Record, len(r.foreign))
	for i := range r.foreign {
		records[i] = Record{ID: i, Tokens: normalize(r.foreign[i].tokens)}
	}
	r.foreign = nil

	if !r.ranked {
		var unseen []Token
		for _, rec := range records {
			for _, tok := range rec.Tokens {
				if _, ok := r.rank[tok]; !ok {
					unseen = append(unseen, tok)
				}
			}
		}
		for _, tok := range normalize(unseen) {
			r.rank[tok] = r.nextID
			r.nextID++
		}
		for i := range records {
			for j, tok := range records[i].Tokens {
				records[i].Tokens[j] = r.rank[tok]
			}
			slices.Sort(records[i].Tokens)
		}
	}

	r.dataset.Foreign = records
	r.state = stateForeignPrepared
	return nil
}

// Finish releases the remapping tables and returns the prepared dataset.
// PrepareForeign is run implicitly for self joins that never called it.
func (r *Ranker) Finish() (Dataset, error) {
	switch r.state {
	case stateIndexedPrepared:
		if err := r.PrepareForeign(); err != nil {
			return Dataset{}, err
		}
	case stateForeignPrepared:
	default:
		return Dataset{}, fmt.Errorf("finishing prepare in state %d: %w", r.state, apperrors.ErrPhase)
	}
	r.rank = nil
	r.state = stateFinished
	return r.dataset, nil
}

// uniformRanking reports whether all records arrived pre-ranked. Mixing the
// two kinds would mix two id spaces.
func uniformRanking(sets ...[]pending) (bool, error) {
	seen, ranked := false, false
	for _, set := range sets {
		for _, p := range set {
			if !seen {
				seen, ranked = true, p.ranked
				continue
			}
			if p.ranked != ranked {
				return false, apperrors.New(apperrors.ErrInvalidInput, apperrors.ExitInput,
					"cannot mix pre-ranked and raw records in one join")
			}
		}
	}
	return ranked, nil
}
