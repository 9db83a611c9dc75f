package tle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ErrNotTLE is returned when the source answered with something other than
// TLE text, typically an HTML error page.
var ErrNotTLE = errors.New("TLE file not loaded")

// Source loads the dataset once from a local path or an http(s) URL.
type Source struct {
	location string
	fetcher  *Fetcher
	cache    *Cache
	logger   *slog.Logger
}

// NewSource creates a Source for location. cache may be nil; it is only used
// for remote locations.
func NewSource(location string, cache *Cache, logger *slog.Logger) *Source {
	s := &Source{
		location: location,
		cache:    cache,
		logger:   logger,
	}
	if isRemote(location) {
		s.fetcher = NewFetcher(location, logger)
	}
	return s
}

// Location returns the configured path or URL.
func (s *Source) Location() string {
	return s.location
}

// Load reads, checks and parses the source. It is a single attempt with no
// retry; a remote failure falls back to the newest cached copy if there is one.
func (s *Source) Load(ctx context.Context) (*Dataset, error) {
	data, loadedAt, origin, err := s.read(ctx)
	if err != nil {
		return nil, err
	}

	res, err := Parse(bytes.NewReader(data), s.logger)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", origin, err)
	}

	s.logger.Info("loaded TLE dataset",
		"source", origin,
		"records", len(res.Records),
		"dropped_lines", res.Dropped,
	)

	return &Dataset{
		Source:   origin,
		LoadedAt: loadedAt,
		Records:  res.Records,
	}, nil
}

func (s *Source) read(ctx context.Context) ([]byte, time.Time, string, error) {
	if s.fetcher == nil {
		data, err := os.ReadFile(s.location)
		if err != nil {
			return nil, time.Time{}, "", fmt.Errorf("reading %s: %w", s.location, err)
		}
		if err := checkContent(data); err != nil {
			return nil, time.Time{}, "", fmt.Errorf("%s: %w", s.location, err)
		}
		return data, time.Now(), s.location, nil
	}

	data, err := s.fetcher.Fetch(ctx)
	if err == nil {
		err = checkContent(data)
	}
	if err == nil {
		now := time.Now()
		if s.cache != nil {
			if cerr := s.cache.Write(data, now); cerr != nil {
				s.logger.Warn("failed to cache TLE data", "error", cerr)
			}
		}
		return data, now, s.location, nil
	}

	if s.cache == nil {
		return nil, time.Time{}, "", err
	}
	cached, ts, cerr := s.cache.LoadLatest()
	if cerr != nil {
		return nil, time.Time{}, "", fmt.Errorf("%w (cache: %v)", err, cerr)
	}
	s.logger.Warn("remote TLE load failed, using cached copy",
		"source_url", s.location,
		"cached_at", ts.UTC().Format(time.RFC3339),
		"error", err,
	)
	return cached, ts, "cache", nil
}

// checkContent rejects bodies that look like an HTML page rather than TLE text.
func checkContent(data []byte) error {
	if strings.Contains(strings.ToLower(string(data)), "<html") {
		return ErrNotTLE
	}
	return nil
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}
