package types

import (
	"encoding/json"
	"testing"
)

func TestIntervalContainsExclusiveBounds(t *testing.T) {
	iv := Interval{Start: 100, End: 110}
	tests := []struct {
		ts   int64
		want bool
	}{
		{99, false},
		{100, false},
		{101, true},
		{109, true},
		{110, false},
	}
	for _, tt := range tests {
		if got := iv.Contains(tt.ts); got != tt.want {
			t.Errorf("Contains(%d) = %v, want %v", tt.ts, got, tt.want)
		}
	}
}

func TestDescriptorJSON(t *testing.T) {
	d := Descriptor{Tier: TierArchive, Bucket: 1700000000, Timestamp: 1700000042}
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"tier":"archive","bucket":1700000000,"timestamp":1700000042}` {
		t.Fatalf("unexpected json: %s", raw)
	}
	var back Descriptor
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if back != d {
		t.Fatalf("got %+v, want %+v", back, d)
	}
}

func TestDescriptorLocation(t *testing.T) {
	if got := (Descriptor{Tier: TierFlash, Timestamp: 5}).Location(); got != "flash" {
		t.Errorf("flash location = %q", got)
	}
	if got := (Descriptor{Tier: TierArchive, Bucket: 42}).Location(); got != "42" {
		t.Errorf("archive location = %q", got)
	}
}

func TestParseTierUnknown(t *testing.T) {
	if _, err := ParseTier("memory"); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}

func TestParseLocation(t *testing.T) {
	for _, d := range []Descriptor{
		{Tier: TierFlash, Timestamp: 1700000001},
		{Tier: TierArchive, Bucket: 1700000000, Timestamp: 1700000001},
	} {
		got, err := ParseLocation(d.Location(), d.Timestamp)
		if err != nil {
			t.Fatalf("%+v: %v", d, err)
		}
		if got != d {
			t.Fatalf("got %+v, want %+v", got, d)
		}
	}
	for _, loc := range []string{"", "sd", "-5", "0", "archive"} {
		if _, err := ParseLocation(loc, 1); err == nil {
			t.Errorf("ParseLocation(%q) should fail", loc)
		}
	}
}
