package similarity

import "math"

// Jaccard: |r ∩ s| / |r ∪ s|.
type Jaccard struct{}

func (Jaccard) Name() string { return "jaccard" }

func (Jaccard) Validate(t float64) error { return validateUnit("jaccard", t) }

func (Jaccard) MinSize(length int, t float64) int {
	return ceil(t * float64(length))
}

func (Jaccard) MaxSize(length int, t float64, maxLen int) int {
	return min(maxLen, floor(float64(length)/t))
}

func (Jaccard) MinOverlap(len1, len2 int, t float64) int {
	return ceil(t / (1 + t) * float64(len1+len2))
}

func (j Jaccard) MaxPrefix(length int, t float64) int { return maxPrefix(j, length, t) }

func (j Jaccard) MidPrefix(length int, t float64) int { return midPrefix(j, length, t) }

func (Jaccard) Score(overlap, len1, len2 int) float64 {
	union := len1 + len2 - overlap
	if union == 0 {
		return 0
	}
	return float64(overlap) / float64(union)
}

// Cosine: |r ∩ s| / sqrt(|r| * |s|).
type Cosine struct{}

func (Cosine) Name() string { return "cosine" }

func (Cosine) Validate(t float64) error { return validateUnit("cosine", t) }

func (Cosine) MinSize(length int, t float64) int {
	return ceil(t * t * float64(length))
}

func (Cosine) MaxSize(length int, t float64, maxLen int) int {
	return min(maxLen, floor(float64(length)/(t*t)))
}

func (Cosine) MinOverlap(len1, len2 int, t float64) int {
	return ceil(t * math.Sqrt(float64(len1)*float64(len2)))
}

func (c Cosine) MaxPrefix(length int, t float64) int { return maxPrefix(c, length, t) }

func (c Cosine) MidPrefix(length int, t float64) int { return midPrefix(c, length, t) }

func (Cosine) Score(overlap, len1, len2 int) float64 {
	if len1 == 0 || len2 == 0 {
		return 0
	}
	return float64(overlap) / math.Sqrt(float64(len1)*float64(len2))
}

// Dice: 2|r ∩ s| / (|r| + |s|).
type Dice struct{}

func (Dice) Name() string { return "dice" }

func (Dice) Validate(t float64) error { return validateUnit("dice", t) }

func (Dice) MinSize(length int, t float64) int {
	return ceil(t / (2 - t) * float64(length))
}

func (Dice) MaxSize(length int, t float64, maxLen int) int {
	return min(maxLen, floor((2-t)/t*float64(length)))
}

func (Dice) MinOverlap(len1, len2 int, t float64) int {
	return ceil(t * float64(len1+len2) / 2)
}

func (d Dice) MaxPrefix(length int, t float64) int { return maxPrefix(d, length, t) }

func (d Dice) MidPrefix(length int, t float64) int { return midPrefix(d, length, t) }

func (Dice) Score(overlap, len1, len2 int) float64 {
	if len1+len2 == 0 {
		return 0
	}
	return 2 * float64(overlap) / float64(len1+len2)
}

// Overlap is the overlap coefficient |r ∩ s| / min(|r|, |s|). Any partner
// length is feasible, so it gets no length pruning and a full-length prefix.
type Overlap struct{}

func (Overlap) Name() string { return "overlap" }

func (Overlap) Validate(t float64) error { return validateUnit("overlap", t) }

func (Overlap) MinSize(length int, _ float64) int {
	return min(length, 1)
}

func (Overlap) MaxSize(_ int, _ float64, maxLen int) int {
	return maxLen
}

func (Overlap) MinOverlap(len1, len2 int, t float64) int {
	return ceil(t * float64(min(len1, len2)))
}

func (o Overlap) MaxPrefix(length int, t float64) int { return maxPrefix(o, length, t) }

func (o Overlap) MidPrefix(length int, t float64) int { return midPrefix(o, length, t) }

func (Overlap) Score(overlap, len1, len2 int) float64 {
	m := min(len1, len2)
	if m == 0 {
		return 0
	}
	return float64(overlap) / float64(m)
}
