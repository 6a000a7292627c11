// Package csvprices reads bunker prices from a CSV file with the columns
// fuel_type,usd_per_t. Lines starting with # are comments.
package csvprices

import (
    "context"
    "encoding/csv"
    "fmt"
    "io"
    "os"
    "strconv"
    "strings"
)

type Adapter struct {
    Path string
}

func (a Adapter) Name() string { return "csv:" + a.Path }

func (a Adapter) FetchPrices(ctx context.Context) (map[string]float64, error) {
    if err := ctx.Err(); err != nil {
        return nil, err
    }
    f, err := os.Open(a.Path)
    if err != nil {
        return nil, err
    }
    defer f.Close()
    return Parse(f)
}

// Parse reads a price table. A header row is optional.
func Parse(r io.Reader) (map[string]float64, error) {
    cr := csv.NewReader(r)
    cr.Comment = '#'
    cr.FieldsPerRecord = 2
    cr.TrimLeadingSpace = true
    out := map[string]float64{}
    for line := 1; ; line++ {
        rec, err := cr.Read()
        if err == io.EOF {
            break
        }
        if err != nil {
            return nil, err
        }
        fuel := strings.ToUpper(strings.TrimSpace(rec[0]))
        if line == 1 && strings.EqualFold(fuel, "fuel_type") {
            continue
        }
        price, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
        if err != nil {
            return nil, fmt.Errorf("price for %s: %w", fuel, err)
        }
        if price < 0 {
            return nil, fmt.Errorf("price for %s is negative", fuel)
        }
        out[fuel] = price
    }
    if len(out) == 0 {
        return nil, fmt.Errorf("no prices in file")
    }
    return out, nil
}
