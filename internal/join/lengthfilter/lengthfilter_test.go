package lengthfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
)

func TestDefaultUsesWholePrefix(t *testing.T) {
	assert.Equal(t, 3, Default{}.ProbeStart(4, 3, 3))
	assert.Equal(t, 7, Default{}.ProbeStart(10, 7, 9))
}

func TestPositionalShrinksWithOverlap(t *testing.T) {
	p := Positional{}
	assert.Equal(t, 3, p.ProbeStart(10, 3, 2), "capped by maxPrefix")
	assert.Equal(t, 2, p.ProbeStart(10, 3, 9))
	assert.Equal(t, 1, p.ProbeStart(10, 3, 10))
	assert.Equal(t, 1, p.ProbeStart(10, 3, 12), "never below one")
}

func TestParse(t *testing.T) {
	p, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, "default", p.Name())

	p, err = Parse("Positional")
	require.NoError(t, err)
	assert.Equal(t, "positional", p.Name())

	_, err = Parse("bogus")
	assert.ErrorIs(t, err, apperrors.ErrUnknownLengthFilter)
}
