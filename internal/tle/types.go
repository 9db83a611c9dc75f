package tle

import "time"

// SatelliteRecord is one three-line group from the source text.
// Index is the record's position in the dataset (0-based).
type SatelliteRecord struct {
	Index int
	Name  string
	Line1 string
	Line2 string

	// Extracted from Line1 when possible; zero values otherwise.
	NORADID int
	Epoch   time.Time
}

// ParseResult holds the records parsed from one text blob.
type ParseResult struct {
	Records []SatelliteRecord
	Dropped int // trailing non-blank lines that did not form a full record
}

// Dataset is the loaded set of records together with where it came from.
type Dataset struct {
	Source   string
	LoadedAt time.Time
	Records  []SatelliteRecord
}

// Record returns the record at index i.
func (d *Dataset) Record(i int) (SatelliteRecord, bool) {
	if d == nil || i < 0 || i >= len(d.Records) {
		return SatelliteRecord{}, false
	}
	return d.Records[i], true
}
