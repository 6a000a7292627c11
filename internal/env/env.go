// Package env samples wind, current and sea state along a voyage.
package env

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voyageopt/internal/geo"
)

// Source tells where a sample came from.
type Source string

const (
	SourceForecast    Source = "forecast"
	SourceClimatology Source = "climatology"
	SourceCalm        Source = "calm"
)

// Sample is the environment at one (position, time) coordinate.
type Sample struct {
	Position    geo.Position `json:"position"`
	Time        time.Time    `json:"time"`
	Wind        geo.Vector   `json:"wind"`
	Current     geo.Vector   `json:"current"`
	WaveHeightM float64      `json:"waveHeightM"`
	Source      Source       `json:"source"`
}

// Sampler answers point queries against an environment field.
type Sampler interface {
	Sample(ctx context.Context, pos geo.Position, t time.Time) (Sample, error)
}

// ErrDataUnavailable means no forecast covers the query.
var ErrDataUnavailable = errors.New("environment data unavailable")

// UnavailableError carries the coordinate that could not be served.
type UnavailableError struct {
	Position geo.Position
	Time     time.Time
	Reason   string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("environment data unavailable at %s %s: %s", e.Position, e.Time.UTC().Format(time.RFC3339), e.Reason)
}

func (e *UnavailableError) Unwrap() error { return ErrDataUnavailable }

// Calm returns zero wind, current and waves everywhere.
type Calm struct{}

func (Calm) Sample(_ context.Context, pos geo.Position, t time.Time) (Sample, error) {
	return Sample{Position: pos, Time: t, Source: SourceCalm}, nil
}

// Func adapts a plain function to Sampler.
type Func func(ctx context.Context, pos geo.Position, t time.Time) (Sample, error)

func (f Func) Sample(ctx context.Context, pos geo.Position, t time.Time) (Sample, error) {
	return f(ctx, pos, t)
}

type fallback struct {
	primary, secondary Sampler
}

// WithFallback answers from primary and only consults secondary when primary
// reports ErrDataUnavailable. Other errors pass through untouched.
func WithFallback(primary, secondary Sampler) Sampler {
	if secondary == nil {
		return primary
	}
	return fallback{primary: primary, secondary: secondary}
}

func (f fallback) Sample(ctx context.Context, pos geo.Position, t time.Time) (Sample, error) {
	s, err := f.primary.Sample(ctx, pos, t)
	if err == nil || !errors.Is(err, ErrDataUnavailable) {
		return s, err
	}
	return f.secondary.Sample(ctx, pos, t)
}
