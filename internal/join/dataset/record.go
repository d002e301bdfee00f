// Package dataset holds the record model of the join and the preprocessor
// that turns raw token ids into dense ids ranked by ascending frequency.
package dataset

import "slices"

// Token is a dense, frequency-ranked token id. Smaller ids are rarer.
type Token = uint32

// Record is a set of tokens sorted ascending by rank. ID is the position the
// record was added at within its collection, so output can refer back to the
// caller's records after the preprocessor has reordered them.
type Record struct {
	ID     int     `json:"id"`
	Tokens []Token `json:"tokens"`
}

func (r Record) Len() int { return len(r.Tokens) }

// Dataset is the prepared input of a join. Indexed records are sorted by
// non-decreasing length. Foreign is empty for self joins.
type Dataset struct {
	Indexed []Record
	Foreign []Record
	// MaxToken is the largest token id present in Indexed, -1 when there are
	// no tokens at all. The inverted index is sized from it.
	MaxToken int
}

// MaxLen is the length of the longest indexed record.
func (d *Dataset) MaxLen() int {
	if len(d.Indexed) == 0 {
		return 0
	}
	return d.Indexed[len(d.Indexed)-1].Len()
}

// TokenCount is the number of token occurrences in both collections.
func (d *Dataset) TokenCount() int {
	n := 0
	for _, r := range d.Indexed {
		n += r.Len()
	}
	for _, r := range d.Foreign {
		n += r.Len()
	}
	return n
}

// sortByLength orders records by length, keeping insertion order among
// records of equal length so runs are deterministic.
func sortByLength(records []Record) {
	slices.SortStableFunc(records, func(a, b Record) int {
		if a.Len() != b.Len() {
			return a.Len() - b.Len()
		}
		return a.ID - b.ID
	})
}

// normalize sorts tokens ascending and drops duplicates in place.
func normalize(tokens []Token) []Token {
	slices.Sort(tokens)
	return slices.Compact(tokens)
}
