// Package source reads records for the join: whitespace-separated token ids,
// tokenized text lines, or (id, int[]) rows from PostgreSQL.
package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/dataset"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
)

// EmitFunc receives one record: its external id and its tokens. The tokens
// slice is owned by the receiver.
type EmitFunc func(id int64, tokens []dataset.Token) error

// Source produces records in order. An error from emit stops the load and is
// returned unchanged.
type Source interface {
	Load(ctx context.Context, emit EmitFunc) error
}

// maxLineBytes bounds one record line.
const maxLineBytes = 64 << 20

// IntLines reads one record per line as whitespace-separated non-negative
// token ids. A blank line is an empty record. The external id is the
// zero-based line number.
type IntLines struct {
	r io.Reader
}

func NewIntLines(r io.Reader) *IntLines { return &IntLines{r: r} }

func (s *IntLines) Load(ctx context.Context, emit EmitFunc) error {
	return scanLines(ctx, s.r, func(lineNo int64, line string) error {
		fields := strings.Fields(line)
		tokens := make([]dataset.Token, 0, len(fields))
		for _, f := range fields {
			v, err := strconv.ParseUint(f, 10, 32)
			if err != nil {
				return apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitInput,
					"line %d: token %q is not a non-negative 32-bit integer", lineNo+1, f)
			}
			tokens = append(tokens, dataset.Token(v))
		}
		return emit(lineNo, tokens)
	})
}

// TextLines tokenizes each line and maps the terms through a Dictionary. Use
// one Dictionary for both sides of a foreign join.
type TextLines struct {
	r    io.Reader
	dict *tokenizer.Dictionary
	opts tokenizer.Options
}

func NewTextLines(r io.Reader, dict *tokenizer.Dictionary, opts tokenizer.Options) *TextLines {
	return &TextLines{r: r, dict: dict, opts: opts}
}

func (s *TextLines) Load(ctx context.Context, emit EmitFunc) error {
	return scanLines(ctx, s.r, func(lineNo int64, line string) error {
		return emit(lineNo, s.dict.IDs(tokenizer.Terms(line, s.opts)))
	})
}

func scanLines(ctx context.Context, r io.Reader, fn func(lineNo int64, line string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var lineNo int64
	for scanner.Scan() {
		if lineNo%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(lineNo, scanner.Text()); err != nil {
			return err
		}
		lineNo++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading line %d: %w", lineNo+1, err)
	}
	return nil
}

// Slice serves in-memory records; the external id is the slice position.
type Slice [][]dataset.Token

func (s Slice) Load(ctx context.Context, emit EmitFunc) error {
	for i, rec := range s {
		if err := emit(int64(i), append([]dataset.Token(nil), rec...)); err != nil {
			return err
		}
	}
	return ctx.Err()
}
