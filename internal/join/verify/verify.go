// Package verify confirms candidate pairs by merging the unexamined parts of
// two token lists.
package verify

import "github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/dataset"

// Overlap reports whether a and b share at least minOverlap tokens, given
// that matched tokens are already known to be shared and that the remaining
// matches all lie in a[startA:] and b[startB:]. Both lists are sorted by the
// same global token order. The merge stops as soon as the threshold is met,
// or as soon as either side has too few unseen tokens left to make it.
func Overlap(a, b []dataset.Token, minOverlap, startA, startB, matched int) bool {
	i, j := startA, startB
	// Best overlap still reachable from each side.
	reachA := len(a) - i + matched
	reachB := len(b) - j + matched
	for reachA >= minOverlap && reachB >= minOverlap && matched < minOverlap {
		switch {
		case a[i] == b[j]:
			matched++
			i++
			j++
		case a[i] < b[j]:
			i++
			reachA--
		default:
			j++
			reachB--
		}
	}
	return matched >= minOverlap
}

// Count is the plain merge intersection size of two sorted lists.
func Count(a, b []dataset.Token) int {
	var i, j, n int
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			n++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return n
}
