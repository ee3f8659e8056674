package progress

import (
	"bytes"
	"strings"
	"testing"
)

func TestBar_RendersCountsAndDirectories(t *testing.T) {
	var out bytes.Buffer
	bar := NewWriter(2, &out)

	bar.SetDirectory("src/pkg")
	bar.Increment(1500)
	bar.SetDirectory("docs")
	bar.Increment(10)
	bar.Finish()

	files, size := bar.Counts()
	if files != 2 || size != 1510 {
		t.Errorf("Expected 2 files and 1510 bytes, got %d and %d", files, size)
	}

	rendered := out.String()
	for _, want := range []string{"100%", "(2/2, 1.47 KB)", "pkg, docs"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("Expected output to contain %q, got %q", want, rendered)
		}
	}
	if !strings.HasSuffix(rendered, "\n") {
		t.Error("Finish should end the progress line")
	}
}

func TestBar_KeepsRecentDirectories(t *testing.T) {
	bar := NewWriter(10, nil)
	for _, dir := range []string{"a", "b", "c", "a", "d"} {
		bar.SetDirectory(dir)
	}

	want := []string{"c", "a", "d"}
	if strings.Join(bar.recentDirs, ",") != strings.Join(want, ",") {
		t.Errorf("Expected recent dirs %v, got %v", want, bar.recentDirs)
	}
}

func TestBar_NilIsNoop(t *testing.T) {
	var bar *Bar
	bar.SetDirectory("x")
	bar.Increment(1)
	bar.Finish()
	if files, _ := bar.Counts(); files != 0 {
		t.Errorf("Expected nil bar to count nothing, got %d", files)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.bytes); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}
