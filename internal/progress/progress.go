package progress

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"
)

// maxDirs is how many recently active directories the bar shows.
const maxDirs = 3

type Bar struct {
	total   int64
	current int64
	bytes   int64
	width   int
	writer  io.Writer
	mu      sync.Mutex
	// recentDirs holds the last few directories, newest last.
	recentDirs []string
	lastUpdate time.Time
}

// New returns a bar for total files that draws to stderr, leaving stdout
// free for command output.
func New(total int64) *Bar {
	return NewWriter(total, os.Stderr)
}

// NewWriter returns a bar that draws to w. A nil w disables drawing.
func NewWriter(total int64, w io.Writer) *Bar {
	return &Bar{
		total:      total,
		width:      50,
		writer:     w,
		lastUpdate: time.Now(),
	}
}

func (b *Bar) SetDirectory(dir string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, d := range b.recentDirs {
		if d == dir {
			b.recentDirs = append(b.recentDirs[:i], b.recentDirs[i+1:]...)
			break
		}
	}
	b.recentDirs = append(b.recentDirs, dir)
	if len(b.recentDirs) > maxDirs {
		b.recentDirs = b.recentDirs[len(b.recentDirs)-maxDirs:]
	}
}

// Increment records one imported file of size bytes.
func (b *Bar) Increment(size int64) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current++
	b.bytes += size

	// Update at most every 100ms to reduce flickering
	now := time.Now()
	if now.Sub(b.lastUpdate) > 100*time.Millisecond || b.current == b.total {
		b.lastUpdate = now
		b.render()
	}
}

// Counts returns the files and bytes recorded so far.
func (b *Bar) Counts() (files, bytes int64) {
	if b == nil {
		return 0, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, b.bytes
}

// render must be called with mu already locked
func (b *Bar) render() {
	if b.total == 0 || b.writer == nil {
		return
	}

	percent := float64(b.current) / float64(b.total) * 100
	filledWidth := min(int(float64(b.width)*float64(b.current)/float64(b.total)), b.width)
	bar := strings.Repeat("█", filledWidth) + strings.Repeat("░", b.width-filledWidth)

	var dirDisplay string
	if len(b.recentDirs) > 0 {
		names := make([]string, len(b.recentDirs))
		for i, dir := range b.recentDirs {
			names[i] = path.Base(dir)
		}
		dirDisplay = " | " + strings.Join(names, ", ")
	}

	// Clear the line and write progress
	fmt.Fprintf(b.writer, "\r\033[K[%s] %3d%% (%d/%d, %s)%s",
		bar, int(percent), b.current, b.total, FormatSize(b.bytes), dirDisplay)
}

func (b *Bar) Finish() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = b.total
	b.render()
	if b.writer != nil && b.total > 0 {
		fmt.Fprintf(b.writer, "\n")
	}
}

// FormatSize renders a byte count for humans.
func FormatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
