package verify

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/dataset"
)

func TestOverlapFromStart(t *testing.T) {
	a := []dataset.Token{1, 2, 3, 4}
	b := []dataset.Token{2, 3, 4, 5}
	assert.True(t, Overlap(a, b, 3, 0, 0, 0))
	assert.False(t, Overlap(a, b, 4, 0, 0, 0))
}

func TestOverlapWithHeadStart(t *testing.T) {
	a := []dataset.Token{1, 2, 3, 4}
	b := []dataset.Token{2, 3, 4, 5}
	// Token 2 was already counted; resume after it on both sides.
	assert.True(t, Overlap(a, b, 3, 2, 1, 1))
	assert.False(t, Overlap(a, b, 4, 2, 1, 1))
}

func TestOverlapAlreadySatisfied(t *testing.T) {
	assert.True(t, Overlap(nil, nil, 2, 0, 0, 2))
	assert.True(t, Overlap([]dataset.Token{1}, []dataset.Token{2}, 0, 0, 0, 0))
}

func TestOverlapStartsPastEnd(t *testing.T) {
	a := []dataset.Token{1, 2}
	assert.False(t, Overlap(a, a, 2, 2, 2, 1))
}

func TestOverlapAgreesWithCount(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	randomSet := func() []dataset.Token {
		n := rng.Intn(12)
		out := make([]dataset.Token, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, dataset.Token(rng.Intn(20)))
		}
		slices.Sort(out)
		return slices.Compact(out)
	}
	for i := 0; i < 2000; i++ {
		a, b := randomSet(), randomSet()
		actual := Count(a, b)
		for need := 0; need <= 13; need++ {
			require.Equal(t, actual >= need, Overlap(a, b, need, 0, 0, 0), "a=%v b=%v need=%d", a, b, need)
		}
	}
}
