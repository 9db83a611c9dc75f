package tle

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Parse reads three-lines-per-record TLE text from r.
//
// Lines are trimmed and blank lines dropped; every three remaining lines form
// one record (name, line 1, line 2). A trailing partial group is dropped.
// Element lines are not validated here: malformed lines surface later when
// the SGP4 model is initialised.
func Parse(r io.Reader, logger *slog.Logger) (*ParseResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	res := &ParseResult{
		Records: make([]SatelliteRecord, 0, len(lines)/3),
	}
	for i := 0; i+2 < len(lines); i += 3 {
		rec := SatelliteRecord{
			Index: i / 3,
			Name:  lines[i],
			Line1: lines[i+1],
			Line2: lines[i+2],
		}

		if id, err := parseNORADID(rec.Line1); err == nil {
			rec.NORADID = id
		} else {
			logger.Debug("no NORAD id in TLE line 1", "name", rec.Name, "error", err)
		}
		if epoch, err := parseLineEpoch(rec.Line1); err == nil {
			rec.Epoch = epoch
		} else {
			logger.Debug("no epoch in TLE line 1", "name", rec.Name, "error", err)
		}

		res.Records = append(res.Records, rec)
	}

	res.Dropped = len(lines) % 3
	if res.Dropped > 0 {
		logger.Warn("dropping trailing partial TLE record",
			"lines", res.Dropped,
			"records", len(res.Records),
		)
	}

	return res, nil
}

// parseNORADID extracts the catalog number from line 1 cols 3-7.
func parseNORADID(line1 string) (int, error) {
	if len(line1) < 7 {
		return 0, fmt.Errorf("line1 too short: %d chars", len(line1))
	}
	return strconv.Atoi(strings.TrimSpace(line1[2:7]))
}

// parseLineEpoch extracts the epoch from line 1 cols 19-32.
func parseLineEpoch(line1 string) (time.Time, error) {
	if len(line1) < 32 {
		return time.Time{}, fmt.Errorf("line1 too short: %d chars", len(line1))
	}
	return parseEpoch(strings.TrimSpace(line1[18:32]))
}

// parseEpoch converts a TLE epoch string in YYDDD.DDDDDDDD format to time.Time.
// Year 00-56 → 2000s, 57-99 → 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	yearStr := s[:2]
	dayStr := s[2:]

	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", yearStr, err)
	}

	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(dayStr, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", dayStr, err)
	}

	// dayOfYear is 1-based: day 1 = Jan 1.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}
