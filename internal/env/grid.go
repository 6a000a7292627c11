package env

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"voyageopt/internal/geo"
)

// Layer is one forecast time slice. Every field is row-major with NLat rows
// of NLon values, row 0 at LatMin.
type Layer struct {
	Time     time.Time `json:"time" yaml:"time"`
	WindE    []float64 `json:"windE" yaml:"windE"`
	WindN    []float64 `json:"windN" yaml:"windN"`
	CurrentE []float64 `json:"currentE" yaml:"currentE"`
	CurrentN []float64 `json:"currentN" yaml:"currentN"`
	WaveM    []float64 `json:"waveM" yaml:"waveM"`
}

// Grid is a regular lat/lon forecast grid with one or more time layers.
// A grid with a single layer is treated as time-invariant.
type Grid struct {
	LatMin  float64 `json:"latMin" yaml:"latMin"`
	LonMin  float64 `json:"lonMin" yaml:"lonMin"`
	LatStep float64 `json:"latStep" yaml:"latStep"`
	LonStep float64 `json:"lonStep" yaml:"lonStep"`
	NLat    int     `json:"nLat" yaml:"nLat"`
	NLon    int     `json:"nLon" yaml:"nLon"`
	Layers  []Layer `json:"layers" yaml:"layers"`
}

func (g *Grid) validate() error {
	if g.NLat < 2 || g.NLon < 2 {
		return fmt.Errorf("grid needs at least 2x2 points, got %dx%d", g.NLat, g.NLon)
	}
	if g.LatStep <= 0 || g.LonStep <= 0 {
		return errors.New("grid steps must be > 0")
	}
	if len(g.Layers) == 0 {
		return errors.New("grid has no layers")
	}
	n := g.NLat * g.NLon
	for i, l := range g.Layers {
		for name, f := range map[string][]float64{"windE": l.WindE, "windN": l.WindN, "currentE": l.CurrentE, "currentN": l.CurrentN, "waveM": l.WaveM} {
			if len(f) != 0 && len(f) != n {
				return fmt.Errorf("layer %d field %s has %d values, want %d", i, name, len(f), n)
			}
		}
		if i > 0 && !l.Time.After(g.Layers[i-1].Time) {
			return fmt.Errorf("layer %d time not after layer %d", i, i-1)
		}
	}
	return nil
}

// GridSampler interpolates a Grid bilinearly in space and linearly in time.
// Vector fields are interpolated per component.
type GridSampler struct {
	g Grid
}

func NewGridSampler(g Grid) (*GridSampler, error) {
	sort.SliceStable(g.Layers, func(i, j int) bool { return g.Layers[i].Time.Before(g.Layers[j].Time) })
	if err := g.validate(); err != nil {
		return nil, fmt.Errorf("forecast grid: %w", err)
	}
	return &GridSampler{g: g}, nil
}

func (s *GridSampler) latMax() float64 { return s.g.LatMin + float64(s.g.NLat-1)*s.g.LatStep }
func (s *GridSampler) lonMax() float64 { return s.g.LonMin + float64(s.g.NLon-1)*s.g.LonStep }

// Covers reports whether pos lies inside the grid footprint.
func (s *GridSampler) Covers(pos geo.Position) bool {
	return pos.Lat >= s.g.LatMin && pos.Lat <= s.latMax() && pos.Lon >= s.g.LonMin && pos.Lon <= s.lonMax()
}

func (s *GridSampler) Sample(ctx context.Context, pos geo.Position, t time.Time) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	if !s.Covers(pos) {
		return Sample{}, &UnavailableError{Position: pos, Time: t, Reason: "outside forecast grid"}
	}
	k0, k1, ft, err := s.timeBracket(t)
	if err != nil {
		return Sample{}, &UnavailableError{Position: pos, Time: t, Reason: err.Error()}
	}
	i, fy := cell(pos.Lat, s.g.LatMin, s.g.LatStep, s.g.NLat)
	j, fx := cell(pos.Lon, s.g.LonMin, s.g.LonStep, s.g.NLon)
	at := func(f0, f1 []float64) float64 {
		a := s.bilinear(f0, i, j, fy, fx)
		if k0 == k1 {
			return a
		}
		b := s.bilinear(f1, i, j, fy, fx)
		return a + (b-a)*ft
	}
	l0, l1 := s.g.Layers[k0], s.g.Layers[k1]
	return Sample{
		Position:    pos,
		Time:        t,
		Wind:        geo.Vector{East: at(l0.WindE, l1.WindE), North: at(l0.WindN, l1.WindN)},
		Current:     geo.Vector{East: at(l0.CurrentE, l1.CurrentE), North: at(l0.CurrentN, l1.CurrentN)},
		WaveHeightM: math.Max(0, at(l0.WaveM, l1.WaveM)),
		Source:      SourceForecast,
	}, nil
}

func (s *GridSampler) timeBracket(t time.Time) (int, int, float64, error) {
	ls := s.g.Layers
	if len(ls) == 1 {
		return 0, 0, 0, nil
	}
	if t.Before(ls[0].Time) || t.After(ls[len(ls)-1].Time) {
		return 0, 0, 0, errors.New("outside forecast horizon")
	}
	k := sort.Search(len(ls), func(i int) bool { return !ls[i].Time.Before(t) })
	if ls[k].Time.Equal(t) {
		return k, k, 0, nil
	}
	span := ls[k].Time.Sub(ls[k-1].Time)
	return k - 1, k, float64(t.Sub(ls[k-1].Time)) / float64(span), nil
}

// cell returns the lower grid index along one axis and the fractional
// offset inside that cell.
func cell(v, origin, step float64, n int) (int, float64) {
	x := (v - origin) / step
	i := int(math.Floor(x))
	if i >= n-1 {
		i = n - 2
	}
	if i < 0 {
		i = 0
	}
	return i, x - float64(i)
}

func (s *GridSampler) bilinear(f []float64, i, j int, fy, fx float64) float64 {
	if len(f) == 0 {
		return 0
	}
	n := s.g.NLon
	v00 := f[i*n+j]
	v01 := f[i*n+j+1]
	v10 := f[(i+1)*n+j]
	v11 := f[(i+1)*n+j+1]
	return v00*(1-fy)*(1-fx) + v01*(1-fy)*fx + v10*fy*(1-fx) + v11*fy*fx
}

// LoadGrid reads a forecast grid from a .yaml/.yml or .json file.
func LoadGrid(path string) (Grid, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Grid{}, fmt.Errorf("read forecast grid: %w", err)
	}
	var g Grid
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(b, &g)
	default:
		err = yaml.Unmarshal(b, &g)
	}
	if err != nil {
		return Grid{}, fmt.Errorf("decode forecast grid %s: %w", path, err)
	}
	return g, nil
}
