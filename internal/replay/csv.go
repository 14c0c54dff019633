package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/TheCacophonyProject/battery-advisor/internal/advisor"
)

// TimeFormat is the timestamp layout used in the readings log.
const TimeFormat = "2006-01-02 15:04:05"

// Result holds the samples read from a CSV file and how many rows were skipped.
type Result struct {
	Samples []advisor.Sample
	Skipped int
}

// ReadCSV reads samples from rows of "timestamp, value, charging". Any further columns are
// ignored. The timestamp is either in TimeFormat (local time) or Unix milliseconds. Header
// rows and rows that don't make a valid sample are skipped.
func ReadCSV(r io.Reader) (Result, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	var res Result
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, err
		}
		sample, err := parseRecord(record)
		if err != nil {
			res.Skipped++
			continue
		}
		res.Samples = append(res.Samples, sample)
	}
	return res, nil
}

// LoadFile reads the samples in a CSV file that are not older than since.
func LoadFile(path string, since time.Time) (Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer file.Close()

	res, err := ReadCSV(file)
	if err != nil {
		return res, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if since.IsZero() {
		return res, nil
	}
	recent := res.Samples[:0]
	for _, s := range res.Samples {
		if !s.Timestamp.Before(since) {
			recent = append(recent, s)
		}
	}
	res.Samples = recent
	return res, nil
}

func parseRecord(record []string) (advisor.Sample, error) {
	if len(record) < 3 {
		return advisor.Sample{}, fmt.Errorf("expected at least 3 fields, got %d", len(record))
	}
	if strings.Contains(strings.ToLower(record[0]), "timestamp") {
		return advisor.Sample{}, errors.New("header row")
	}
	ts, err := parseTimestamp(strings.TrimSpace(record[0]))
	if err != nil {
		return advisor.Sample{}, err
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	if err != nil {
		return advisor.Sample{}, err
	}
	charging, err := strconv.ParseBool(strings.TrimSpace(record[2]))
	if err != nil {
		return advisor.Sample{}, err
	}
	return advisor.NewSample(value, charging, ts)
}

func parseTimestamp(s string) (float64, error) {
	if t, err := time.ParseInLocation(TimeFormat, s, time.Local); err == nil {
		return float64(t.UnixMilli()), nil
	}
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("can't parse timestamp '%s'", s)
	}
	return ms, nil
}

// FormatRecord formats a sample as a readings log row, with extra columns appended.
func FormatRecord(s advisor.Sample, extra ...string) string {
	fields := []string{
		s.Timestamp.Local().Format(TimeFormat),
		strconv.FormatFloat(s.Value, 'f', 1, 64),
		strconv.FormatBool(s.Flag),
	}
	return strings.Join(append(fields, extra...), ", ")
}
