package ingest

import (
	"io"
	"time"
)

// RawPoint is an unnormalized sample from an upstream source. A nil Value
// marks a reading the source reported as null.
type RawPoint struct {
	Timestamp time.Time
	Value     *float64
}

// Parser reads a raw hourly series from a source.
type Parser interface {
	Parse(r io.Reader) ([]RawPoint, error)
}
