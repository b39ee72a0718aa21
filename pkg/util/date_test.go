package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ref := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got, ok := ParseTime(strconv.FormatInt(ref.Unix(), 10))
	if !ok || !got.Equal(ref) {
		t.Fatalf("seconds: got %v", got)
	}
	got, ok = ParseTime(strconv.FormatInt(ref.UnixMilli(), 10))
	if !ok || !got.Equal(ref) {
		t.Fatalf("millis: got %v", got)
	}
}

func TestParseDefaults(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	if got := ParseTimeDefault("", def); !got.Equal(def) {
		t.Fatalf("expected default")
	}
	if got := ParseTimeDefault("yesterday", def); !got.Equal(def) {
		t.Fatalf("unparseable input should fall back, got %v", got)
	}
	if got := ParseIntDefault("x", 7); got != 7 {
		t.Fatalf("int default: %v", got)
	}
}
