package source

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/dataset"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
)

type loaded struct {
	ids    []int64
	tokens [][]dataset.Token
}

func collect(t *testing.T, s Source) (loaded, error) {
	t.Helper()
	var out loaded
	err := s.Load(context.Background(), func(id int64, tokens []dataset.Token) error {
		out.ids = append(out.ids, id)
		out.tokens = append(out.tokens, tokens)
		return nil
	})
	return out, err
}

func TestIntLines(t *testing.T) {
	in := "1 2 3\n\n  40\t7  \n"
	got, err := collect(t, NewIntLines(strings.NewReader(in)))
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2}, got.ids)
	assert.Equal(t, []dataset.Token{1, 2, 3}, got.tokens[0])
	assert.Empty(t, got.tokens[1])
	assert.Equal(t, []dataset.Token{40, 7}, got.tokens[2])
}

func TestIntLinesRejectsBadToken(t *testing.T) {
	_, err := collect(t, NewIntLines(strings.NewReader("1 2\n3 -4\n")))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Contains(t, err.Error(), "line 2")
	assert.Equal(t, apperrors.ExitInput, apperrors.ExitCode(err))
}

func TestTextLinesShareDictionary(t *testing.T) {
	dict := tokenizer.NewDictionary()
	left, err := collect(t, NewTextLines(strings.NewReader("red apples\ngreen pears"), dict, tokenizer.DefaultOptions()))
	require.NoError(t, err)
	right, err := collect(t, NewTextLines(strings.NewReader("pears and apples"), dict, tokenizer.DefaultOptions()))
	require.NoError(t, err)

	assert.Equal(t, []dataset.Token{0, 1}, left.tokens[0])
	assert.Equal(t, []dataset.Token{2, 3}, left.tokens[1])
	assert.Equal(t, []dataset.Token{3, 1}, right.tokens[0])
}

func TestEmitErrorStopsLoad(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := NewIntLines(strings.NewReader("1\n2\n3\n")).Load(context.Background(), func(int64, []dataset.Token) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewIntLines(strings.NewReader("1\n")).Load(ctx, func(int64, []dataset.Token) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeQuerier struct {
	rows map[int64][]int64
	keys []int64
}

func (f fakeQuerier) QueryRecords(_ context.Context, _ string, fn func(int64, []int64) error) error {
	for _, k := range f.keys {
		if err := fn(k, f.rows[k]); err != nil {
			return err
		}
	}
	return nil
}

func TestPostgresSource(t *testing.T) {
	q := fakeQuerier{keys: []int64{17, 4}, rows: map[int64][]int64{17: {5, 6}, 4: {}}}
	got, err := collect(t, NewPostgres(q, "SELECT id, tokens FROM sets"))
	require.NoError(t, err)
	assert.Equal(t, []int64{17, 4}, got.ids)
	assert.Equal(t, []dataset.Token{5, 6}, got.tokens[0])

	bad := fakeQuerier{keys: []int64{1}, rows: map[int64][]int64{1: {-3}}}
	_, err = collect(t, NewPostgres(bad, "q"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSliceCopiesRecords(t *testing.T) {
	src := Slice{{1, 2}}
	got, err := collect(t, src)
	require.NoError(t, err)
	got.tokens[0][0] = 99
	assert.Equal(t, dataset.Token(1), src[0][0])
}
