package source

import (
	"context"
	"math"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/dataset"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
)

// RecordQuerier runs a query returning (id bigint, tokens int[]) rows.
// *postgres.Client implements it.
type RecordQuerier interface {
	QueryRecords(ctx context.Context, query string, fn func(id int64, tokens []int64) error) error
}

// Postgres loads records from a query. Rows come in the order the query
// returns them.
type Postgres struct {
	db    RecordQuerier
	query string
}

func NewPostgres(db RecordQuerier, query string) *Postgres {
	return &Postgres{db: db, query: query}
}

func (s *Postgres) Load(ctx context.Context, emit EmitFunc) error {
	return s.db.QueryRecords(ctx, s.query, func(id int64, raw []int64) error {
		tokens := make([]dataset.Token, len(raw))
		for i, v := range raw {
			if v < 0 || v > math.MaxUint32 {
				return apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitInput,
					"record %d: token %d out of range", id, v)
			}
			tokens[i] = dataset.Token(v)
		}
		return emit(id, tokens)
	})
}
