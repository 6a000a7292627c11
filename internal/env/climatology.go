package env

import (
	"context"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"

	"voyageopt/internal/geo"
)

// Mean is a long-term average condition.
type Mean struct {
	Wind        geo.Vector `json:"wind" yaml:"wind"`
	Current     geo.Vector `json:"current" yaml:"current"`
	WaveHeightM float64    `json:"waveHeightM" yaml:"waveHeightM"`
}

// Region is a lat/lon box with either one annual mean or twelve monthly means.
type Region struct {
	Name    string  `json:"name" yaml:"name"`
	LatMin  float64 `json:"latMin" yaml:"latMin"`
	LatMax  float64 `json:"latMax" yaml:"latMax"`
	LonMin  float64 `json:"lonMin" yaml:"lonMin"`
	LonMax  float64 `json:"lonMax" yaml:"lonMax"`
	Monthly []Mean  `json:"monthly" yaml:"monthly"`
}

func (r Region) contains(p geo.Position) bool {
	return p.Lat >= r.LatMin && p.Lat <= r.LatMax && p.Lon >= r.LonMin && p.Lon <= r.LonMax
}

// Climatology answers from the first region containing the query position.
type Climatology struct {
	Regions []Region `json:"regions" yaml:"regions"`
}

func (c *Climatology) Sample(ctx context.Context, pos geo.Position, t time.Time) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	for _, r := range c.Regions {
		if !r.contains(pos) || len(r.Monthly) == 0 {
			continue
		}
		m := r.Monthly[0]
		if len(r.Monthly) == 12 {
			m = r.Monthly[int(t.UTC().Month())-1]
		}
		return Sample{Position: pos, Time: t, Wind: m.Wind, Current: m.Current, WaveHeightM: m.WaveHeightM, Source: SourceClimatology}, nil
	}
	return Sample{}, &UnavailableError{Position: pos, Time: t, Reason: "no climatology region"}
}

// LoadClimatology reads a YAML climatology table.
func LoadClimatology(path string) (*Climatology, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read climatology: %w", err)
	}
	var c Climatology
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("decode climatology: %w", err)
	}
	for i, r := range c.Regions {
		if n := len(r.Monthly); n != 1 && n != 12 {
			return nil, fmt.Errorf("climatology region %d (%s): want 1 or 12 means, got %d", i, r.Name, n)
		}
	}
	return &c, nil
}
