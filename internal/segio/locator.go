// Package segio implements the byte I/O & filename pool of spec.md
// §4.A: deriving segment filenames from a basename + index under one
// of the five numbering schemes, and a bounded-LRU pool of open
// *os.File handles.
package segio

import (
	"fmt"

	"github.com/pkg/errors"
)

// Scheme selects a filename extension numbering scheme (spec.md §6.2).
type Scheme int

const (
	SchemeStandard Scheme = iota // .E01 .. .E99, .EAA .. .EZZ, .FAA ..
	SchemeSMART                  // .s01 .. .s99, .sAA ..
	SchemeLogical                // .L01 ..
	SchemeEWFX                   // .Ex01 ..
	SchemeDelta                  // .d01 ..
)

// ErrFilenameOverflow is returned once a scheme's symbol space is
// exhausted (spec.md §4.A).
var ErrFilenameOverflow = errors.New("segio: filename sequence overflow")

// Locator derives a segment's on-disk filename from its 1-based
// sequence number.
type Locator struct {
	Base   string
	Scheme Scheme
}

// Name returns the filename for the given 1-based segment number.
func (l Locator) Name(segmentNumber int) (string, error) {
	if segmentNumber < 1 {
		return "", errors.Errorf("segio: segment number must be >= 1, got %d", segmentNumber)
	}

	switch l.Scheme {
	case SchemeSMART:
		ext, err := sequence(segmentNumber, 's', false)
		if err != nil {
			return "", err
		}
		return l.Base + "." + ext, nil
	case SchemeLogical:
		ext, err := sequence(segmentNumber, 'L', true)
		if err != nil {
			return "", err
		}
		return l.Base + "." + ext, nil
	case SchemeEWFX:
		ext, err := sequence(segmentNumber, 'E', true)
		if err != nil {
			return "", err
		}
		return l.Base + ".Ex" + ext[1:], nil
	case SchemeDelta:
		ext, err := sequence(segmentNumber, 'd', false)
		if err != nil {
			return "", err
		}
		return l.Base + "." + ext, nil
	default:
		ext, err := sequence(segmentNumber, 'E', true)
		if err != nil {
			return "", err
		}
		return l.Base + "." + ext, nil
	}
}

// sequence implements the standard EWF segment numbering:
// <letter>01 .. <letter>99, then two uppercase letters AA..ZZ, then
// (if rollLetter) the leading letter itself rolls E -> F -> ... -> Z.
// SMART/delta use only the two-digit-then-two-letter form without
// rolling the leading letter.
func sequence(n int, letter byte, rollLetter bool) (string, error) {
	if n <= 99 {
		return fmt.Sprintf("%c%02d", letter, n), nil
	}

	n -= 100 // n now indexes into the two-letter space, 0-based
	const alphabetSize = 26
	maxTwoLetter := alphabetSize * alphabetSize

	leadIdx := 0
	for n >= maxTwoLetter {
		n -= maxTwoLetter
		leadIdx++
		if !rollLetter {
			return "", errors.Wrap(ErrFilenameOverflow, "segio")
		}
	}

	lead := letter + byte(leadIdx)
	if lead > 'Z' {
		return "", errors.Wrap(ErrFilenameOverflow, "segio")
	}

	first := byte('A' + n/alphabetSize)
	second := byte('A' + n%alphabetSize)
	return fmt.Sprintf("%c%c%c", lead, first, second), nil
}
