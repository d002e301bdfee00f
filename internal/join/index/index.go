// Package index implements the token-keyed inverted index probed by the join.
// Lists hold plain record positions into the indexed collection; the index
// never owns records.
package index

import (
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/dataset"
)

// Entry references one indexed record. The length is stored inline so the
// length filters never have to touch the record itself.
type Entry struct {
	RecordID int32
	Length   int32
}

// List is the inverted list of one token. Records are inserted in
// non-decreasing length order, so every list is sorted by Length.
type List []Entry

type Index struct {
	lists    []List
	prefixes []int32
	entries  int
}

// New sizes the index for token ids in [0, maxToken] and record ids in
// [0, numRecords).
func New(maxToken int, numRecords int) *Index {
	return &Index{
		lists:    make([]List, maxToken+1),
		prefixes: make([]int32, numRecords),
	}
}

// Insert adds record id to the lists of its first prefixLen tokens. Tokens
// past the prefix never need list membership: any qualifying partner shares
// a token with the prefix. A token id beyond the size given to New is a
// caller bug and panics.
func (ix *Index) Insert(id int, tokens []dataset.Token, prefixLen int) {
	prefixLen = min(prefixLen, len(tokens))
	entry := Entry{RecordID: int32(id), Length: int32(len(tokens))}
	for _, tok := range tokens[:prefixLen] {
		if int(tok) >= len(ix.lists) {
			panic(fmt.Sprintf("index: token %d exceeds largest token id %d", tok, len(ix.lists)-1))
		}
		ix.lists[tok] = append(ix.lists[tok], entry)
	}
	ix.prefixes[id] = int32(prefixLen)
	ix.entries += prefixLen
}

// PrefixLen is the number of leading tokens record id was indexed under.
// Verification of that record resumes right after them.
func (ix *Index) PrefixLen(id int) int {
	return int(ix.prefixes[id])
}

// Lookup opens a cursor over the list of token. Tokens without a list, or
// outside the indexed id range, give an exhausted cursor.
func (ix *Index) Lookup(token dataset.Token) Cursor {
	if int(token) >= len(ix.lists) {
		return Cursor{}
	}
	return Cursor{list: ix.lists[token]}
}

// Entries is the total number of list entries.
func (ix *Index) Entries() int { return ix.entries }

// Tokens is the number of tokens with a non-empty list.
func (ix *Index) Tokens() int {
	n := 0
	for _, l := range ix.lists {
		if len(l) > 0 {
			n++
		}
	}
	return n
}

// Cursor walks one inverted list. Filtering (SkipShorter) and iteration
// (Advance) are separate calls; neither happens as a side effect of the other.
type Cursor struct {
	list List
	pos  int
}

func (c *Cursor) AtEnd() bool { return c.pos >= len(c.list) }

func (c *Cursor) Entry() Entry { return c.list[c.pos] }

func (c *Cursor) Advance() { c.pos++ }

func (c *Cursor) Remaining() int { return len(c.list) - c.pos }

// SkipShorter moves past every entry shorter than minLen and returns how many
// were skipped. Lists are length sorted, so this is a binary search.
func (c *Cursor) SkipShorter(minLen int) int {
	rest := c.list[c.pos:]
	n := sort.Search(len(rest), func(i int) bool {
		return int(rest[i].Length) >= minLen
	})
	c.pos += n
	return n
}
