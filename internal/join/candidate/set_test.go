package candidate

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateRegistersOnce(t *testing.T) {
	s := NewSet(10)
	*s.GetOrCreate(3) += 1
	*s.GetOrCreate(7) += 1
	*s.GetOrCreate(3) += 1

	assert.Equal(t, []int32{3, 7}, s.IDs())
	assert.Equal(t, uint32(2), s.Count(3))
	assert.Equal(t, uint32(1), s.Count(7))
	assert.Equal(t, 2, s.Len())
}

func TestClearResetsTouchedSlots(t *testing.T) {
	s := NewSet(5)
	*s.GetOrCreate(1) += 4
	*s.GetOrCreate(4) += 1

	assert.Equal(t, 2, s.Clear())
	assert.Empty(t, s.IDs())
	for id := int32(0); id < 5; id++ {
		assert.Zero(t, s.Count(id))
	}

	*s.GetOrCreate(4) += 1
	assert.Equal(t, []int32{4}, s.IDs())
}

func TestResetKeepsRegistration(t *testing.T) {
	s := NewSet(3)
	*s.GetOrCreate(2) += 3
	s.Reset(2)
	assert.Zero(t, s.Count(2))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.Clear())
}

// Clear visits exactly the distinct ids touched since the previous Clear.
func TestClearCostMatchesDistinctTouches(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := NewSet(1000)
	for round := 0; round < 50; round++ {
		distinct := map[int32]struct{}{}
		touches := rng.Intn(300)
		for i := 0; i < touches; i++ {
			id := int32(rng.Intn(1000))
			distinct[id] = struct{}{}
			*s.GetOrCreate(id) += 1
		}
		require.Equal(t, len(distinct), s.Len())
		for _, id := range s.IDs() {
			require.NotZero(t, s.Count(id))
		}
		require.Equal(t, len(distinct), s.Clear())
	}
}
