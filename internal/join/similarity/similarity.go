// Package similarity holds the threshold arithmetic used by the prefix and
// length filters. Every function is pure: given record lengths and a threshold
// it answers which partner sizes are feasible, how much overlap is required and
// how many leading tokens of a record have to be examined.
package similarity

import (
	"fmt"
	"math"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
)

// eps absorbs float rounding so that ceil(0.6*5) is 3, not 4. Without it a pair
// sitting exactly on the threshold could be rejected.
const eps = 1e-9

// Similarity is a set-similarity measure expressed through the bounds the join
// needs. Lengths are token counts; t is the threshold.
type Similarity interface {
	Name() string
	// Validate rejects thresholds outside the measure's domain.
	Validate(t float64) error
	// MinSize is the smallest partner length that can still reach t.
	MinSize(length int, t float64) int
	// MaxSize is the largest partner length worth considering, capped at maxLen.
	MaxSize(length int, t float64, maxLen int) int
	// MinOverlap is the smallest intersection two records of the given
	// lengths need to reach t.
	MinOverlap(len1, len2 int, t float64) int
	// MaxPrefix is the probing prefix: any qualifying partner, whatever its
	// length, shares a token with the first MaxPrefix tokens.
	MaxPrefix(length int, t float64) int
	// MidPrefix is the indexing prefix for records that are only ever
	// probed by records at least as long as themselves.
	MidPrefix(length int, t float64) int
	// Score computes the similarity of two records from their overlap.
	Score(overlap, len1, len2 int) float64
}

func ceil(x float64) int {
	return int(math.Ceil(x - eps))
}

func floor(x float64) int {
	return int(math.Floor(x + eps))
}

func validateUnit(name string, t float64) error {
	if math.IsNaN(t) || t <= 0 || t > 1 {
		return apperrors.Newf(apperrors.ErrInvalidThreshold, apperrors.ExitConfig,
			"%s threshold must be in (0, 1], got %v", name, t)
	}
	return nil
}

func maxPrefix(s Similarity, length int, t float64) int {
	if length == 0 {
		return 0
	}
	return min(length, length-s.MinSize(length, t)+1)
}

func midPrefix(s Similarity, length int, t float64) int {
	if length == 0 {
		return 0
	}
	return min(length, length-s.MinOverlap(length, length, t)+1)
}

// Parse returns the measure registered under name (case-insensitive).
func Parse(name string) (Similarity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "jaccard":
		return Jaccard{}, nil
	case "cosine":
		return Cosine{}, nil
	case "dice":
		return Dice{}, nil
	case "overlap":
		return Overlap{}, nil
	default:
		return nil, fmt.Errorf("similarity %q: %w", name, apperrors.ErrUnknownSimilarity)
	}
}
