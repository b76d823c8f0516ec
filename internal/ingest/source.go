package ingest

import (
	"context"
	"fmt"
	"os"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

// Source yields a normalized observation series.
type Source interface {
	Observations(ctx context.Context) ([]model.Observation, error)
}

// FileSource reads a processed series CSV from disk.
type FileSource struct {
	Path   string
	Parser SeriesParser
}

func (s FileSource) Observations(_ context.Context) ([]model.Observation, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, model.DataErrorf("read series", "opening %s: %w", s.Path, err)
	}
	defer f.Close()

	points, err := s.Parser.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return Normalize(points)
}

// OpenMeteoSource fetches the series from the Open-Meteo API.
type OpenMeteoSource struct {
	Client *OpenMeteoClient
	Query  Query
}

func (s OpenMeteoSource) Observations(ctx context.Context) ([]model.Observation, error) {
	points, err := s.Client.Fetch(ctx, s.Query)
	if err != nil {
		return nil, err
	}
	return Normalize(points)
}
