// Package csvfile serves historical candles from per-instrument CSV files,
// for offline runs and replays.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"fno-scanner/pkg/market"
	"fno-scanner/pkg/session"
)

const localLayout = "2006-01-02 15:04"

// Provider reads <dir>/<instrument key>.csv with rows ts,open,high,low,close[,volume].
// The ts column is RFC3339 or "2006-01-02 15:04" in the exchange location.
// A header row is skipped when its price columns are not numeric.
type Provider struct {
	dir string
	loc *time.Location
}

// NewProvider returns a provider rooted at dir.
func NewProvider(dir string, loc *time.Location) *Provider {
	if loc == nil {
		loc = session.DefaultWindow().Location
	}
	return &Provider{dir: dir, loc: loc}
}

func init() {
	market.RegisterProvider("csv", func(name string, cfg *market.ProviderConfig) (market.Provider, error) {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("csv provider %s: dir is required", name)
		}
		return NewProvider(cfg.Dir, nil), nil
	})
}

// Candles returns rows with From <= ts < To. A missing file yields no data.
func (p *Provider) Candles(ctx context.Context, q market.Query) ([]market.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(p.dir, filepath.Base(q.InstrumentKey)+".csv")
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	all, err := ReadCandles(f, p.loc)
	if err != nil {
		return nil, fmt.Errorf("csvfile: %s: %w", path, err)
	}
	out := all[:0]
	for _, c := range all {
		if !q.From.IsZero() && c.Timestamp.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !c.Timestamp.Before(q.To) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// ReadCandles parses CSV candle rows ordered oldest first.
func ReadCandles(r io.Reader, loc *time.Location) ([]market.Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	candles := make([]market.Candle, 0, len(records))
	for i, rec := range records {
		if len(rec) < 5 {
			continue
		}
		ts, err := parseTimestamp(rec[0], loc)
		if err != nil {
			if i == 0 {
				continue // header
			}
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		var values [5]float64
		for j := 1; j < len(rec) && j <= 5; j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[j]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i+1, j+1, err)
			}
			values[j-1] = v
		}
		candles = append(candles, market.Candle{
			Timestamp: ts,
			Open:      values[0],
			High:      values[1],
			Low:       values[2],
			Close:     values[3],
			Volume:    values[4],
		})
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Timestamp.Before(candles[j].Timestamp) })
	return candles, nil
}

func parseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	return time.ParseInLocation(localLayout, raw, loc)
}
