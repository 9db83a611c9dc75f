package tle

import (
	"strings"
	"testing"
	"time"
)

func TestParseGroupsOfThree(t *testing.T) {
	res, err := Parse(strings.NewReader(issTLE+starlinkTLE), testLogger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(res.Records))
	}
	if res.Dropped != 0 {
		t.Errorf("dropped = %d, want 0", res.Dropped)
	}

	iss := res.Records[0]
	if iss.Index != 0 || iss.Name != "ISS (ZARYA)" || iss.NORADID != 25544 {
		t.Errorf("record 0 = %+v", iss)
	}
	if !strings.HasPrefix(iss.Line1, "1 25544U") || !strings.HasPrefix(iss.Line2, "2 25544") {
		t.Errorf("record 0 lines = %q / %q", iss.Line1, iss.Line2)
	}
	wantEpoch := time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)
	if !iss.Epoch.Equal(wantEpoch) {
		t.Errorf("epoch = %v, want %v", iss.Epoch, wantEpoch)
	}

	if res.Records[1].Index != 1 || res.Records[1].Name != "STARLINK-1007" {
		t.Errorf("record 1 = %+v", res.Records[1])
	}
}

func TestParseBlankLinesAndWhitespace(t *testing.T) {
	text := "\n\n  ISS (ZARYA)  \r\n\n" +
		"1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005\r\n" +
		"   \n" +
		"2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09\n\n"

	res, err := Parse(strings.NewReader(text), testLogger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(res.Records))
	}
	if res.Records[0].Name != "ISS (ZARYA)" {
		t.Errorf("name = %q, want trimmed name", res.Records[0].Name)
	}
}

func TestParseDropsTrailingPartial(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantRecords int
		wantDropped int
	}{
		{"empty", "", 0, 0},
		{"name only", "ISS (ZARYA)\n", 0, 1},
		{"two lines", "ISS (ZARYA)\n1 25544U\n", 0, 2},
		{"one and a bit", issTLE + "STARLINK-1007\n", 1, 1},
		{"one and two thirds", issTLE + "STARLINK-1007\n1 44713U\n", 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse(strings.NewReader(tt.text), testLogger)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if len(res.Records) != tt.wantRecords {
				t.Errorf("records = %d, want %d", len(res.Records), tt.wantRecords)
			}
			if res.Dropped != tt.wantDropped {
				t.Errorf("dropped = %d, want %d", res.Dropped, tt.wantDropped)
			}
		})
	}
}

// TestParseKeepsMalformedLines verifies element lines are not validated here.
func TestParseKeepsMalformedLines(t *testing.T) {
	res, err := Parse(strings.NewReader("JUNK\nfoo\nbar\n"), testLogger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(res.Records))
	}
	if res.Records[0].NORADID != 0 || !res.Records[0].Epoch.IsZero() {
		t.Errorf("record = %+v, want zero id and epoch", res.Records[0])
	}
}

func TestParseEpoch(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"24001.00000000", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"24100.50000000", time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)},
		{"57001.00000000", time.Date(1957, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"99365.00000000", time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseEpoch(tt.in)
		if err != nil {
			t.Errorf("parseEpoch(%q): %v", tt.in, err)
			continue
		}
		if d := got.Sub(tt.want); d < -time.Millisecond || d > time.Millisecond {
			t.Errorf("parseEpoch(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := parseEpoch("2x"); err == nil {
		t.Error("expected error for short epoch")
	}
}

func TestDatasetRecord(t *testing.T) {
	var nilDS *Dataset
	if _, ok := nilDS.Record(0); ok {
		t.Error("nil dataset returned a record")
	}

	ds := &Dataset{Records: []SatelliteRecord{{Index: 0, Name: "A"}}}
	if r, ok := ds.Record(0); !ok || r.Name != "A" {
		t.Errorf("Record(0) = %+v, %v", r, ok)
	}
	if _, ok := ds.Record(1); ok {
		t.Error("Record(1) should be out of range")
	}
	if _, ok := ds.Record(-1); ok {
		t.Error("Record(-1) should be out of range")
	}
}
