package lsmkv

import (
	"testing"
	"time"
)

func TestNewSegmentStamp(t *testing.T) {
	ts := time.Date(2026, 7, 31, 6, 5, 12, 345000000, time.UTC)
	got := newSegmentStamp(ts)
	want := "20260731_060512_345"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestIsSegmentFile(t *testing.T) {
	tests := map[string]struct {
		name string
		want bool
	}{
		"well formed":    {"sstable_20260731_060512_345.sst", true},
		"temp file":      {"sstable_20260731_060512_345.tmp", false},
		"wal file":       {"wal.log", false},
		"missing millis": {"sstable_20260731_060512.sst", false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := isSegmentFile(tc.name); got != tc.want {
				t.Errorf("isSegmentFile(%q) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

func TestSortSegmentNamesNewestFirst(t *testing.T) {
	names := []string{
		"sstable_20260731_060512_000.sst",
		"sstable_20260731_060514_000.sst",
		"sstable_20260731_060513_000.sst",
	}
	sortSegmentNamesNewestFirst(names)

	want := []string{
		"sstable_20260731_060514_000.sst",
		"sstable_20260731_060513_000.sst",
		"sstable_20260731_060512_000.sst",
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], names[i])
		}
	}
}
