// Package lengthfilter decides where verification starts scanning the probe
// record and, for the positional variant, how far down an inverted list a
// probe position may still collect a candidate of a given length.
package lengthfilter

import (
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
)

// Policy computes the first probe position after the region whose matches
// are already counted by the prefix scan. The driver stops collecting a
// candidate at any probe position at or beyond ProbeStart, so the count handed
// to verification always covers exactly probe[:ProbeStart].
type Policy interface {
	Name() string
	ProbeStart(recLen, maxPrefix, minOverlap int) int
}

// Default counts matches over the whole probing prefix.
type Default struct{}

func (Default) Name() string { return "default" }

func (Default) ProbeStart(_, maxPrefix, _ int) int {
	return maxPrefix
}

// Positional shrinks the probe prefix to what the candidate's length actually
// requires: a partner needing minOverlap shared tokens must share one among
// the first recLen-minOverlap+1 probe tokens.
type Positional struct{}

func (Positional) Name() string { return "positional" }

func (Positional) ProbeStart(recLen, maxPrefix, minOverlap int) int {
	return max(1, min(maxPrefix, recLen-minOverlap+1))
}

func Parse(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return Default{}, nil
	case "positional", "tight":
		return Positional{}, nil
	default:
		return nil, fmt.Errorf("length filter %q: %w", name, apperrors.ErrUnknownLengthFilter)
	}
}
