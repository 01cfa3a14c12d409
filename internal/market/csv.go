package market

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// LoadCSV reads a candle series from a CSV file with columns
// timestamp,open,high,low,close,volume. Timestamps may be RFC3339 or unix
// seconds. A header row is detected and skipped.
func LoadCSV(path, asset string) (*Series, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open candle file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	candles := make([]Candle, 0, len(records))
	for i, record := range records {
		if len(record) < 6 {
			return nil, fmt.Errorf("%s row %d: expected 6 columns, got %d", path, i+1, len(record))
		}

		// Header row: first column does not parse as a timestamp.
		if i == 0 && !looksLikeTimestamp(record[0]) {
			continue
		}

		ts, err := parseTimestamp(record[0])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+1, err)
		}

		fields := make([]float64, 5)
		for j := 0; j < 5; j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[j+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("%s row %d col %d: %w", path, i+1, j+2, err)
			}
			fields[j] = v
		}

		candles = append(candles, Candle{
			Timestamp: ts,
			Open:      fields[0],
			High:      fields[1],
			Low:       fields[2],
			Close:     fields[3],
			Volume:    fields[4],
		})
	}

	series, err := NewSeries(asset, candles)
	if err != nil {
		return nil, fmt.Errorf("invalid candle data in %s: %w", path, err)
	}

	log.Debug().Str("asset", asset).Int("candles", series.Len()).Str("path", path).Msg("Loaded candle series")
	return series, nil
}

// LoadDir loads every *.csv file in dir as one series per asset, the asset
// name taken from the file name (btc-usd.csv -> BTC-USD).
func LoadDir(dir string) (History, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list candle dir: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no candle files found in %s", dir)
	}

	history := make(History, len(paths))
	for _, path := range paths {
		asset := strings.ToUpper(strings.TrimSuffix(filepath.Base(path), ".csv"))
		series, err := LoadCSV(path, asset)
		if err != nil {
			return nil, err
		}
		history[asset] = series
	}

	return history, nil
}

func looksLikeTimestamp(s string) bool {
	_, err := parseTimestamp(s)
	return err == nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02", s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		// Heuristic: values past 1e12 are milliseconds.
		if unix > 1_000_000_000_000 {
			return time.UnixMilli(unix).UTC(), nil
		}
		return time.Unix(unix, 0).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
