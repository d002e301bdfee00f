package tokenizer

import "sync"

// Dictionary assigns dense integer ids to terms in first-seen order. Both
// collections of a foreign join must share one Dictionary so equal terms get
// equal ids. Safe for concurrent use.
type Dictionary struct {
	mu    sync.RWMutex
	ids   map[string]uint32
	terms []string
}

func NewDictionary() *Dictionary {
	return &Dictionary{ids: make(map[string]uint32)}
}

// ID returns the id of term, assigning the next free one on first sight.
func (d *Dictionary) ID(term string) uint32 {
	d.mu.RLock()
	id, ok := d.ids[term]
	d.mu.RUnlock()
	if ok {
		return id
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.ids[term]; ok {
		return id
	}
	id = uint32(len(d.terms))
	d.ids[term] = id
	d.terms = append(d.terms, term)
	return id
}

// IDs maps every term through ID.
func (d *Dictionary) IDs(terms []string) []uint32 {
	out := make([]uint32, len(terms))
	for i, t := range terms {
		out[i] = d.ID(t)
	}
	return out
}

// Term is the reverse lookup; ok is false for ids never assigned.
func (d *Dictionary) Term(id uint32) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if int(id) >= len(d.terms) {
		return "", false
	}
	return d.terms[id], true
}

func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.terms)
}
