package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives progress of multi-image runs such as a PDF or a
// directory of scans. Calls come from a single goroutine.
type ProgressCallback interface {
	OnStart(total int)
	OnProgress(current, total int)
	OnComplete()
	OnError(index int, err error)
}

// NoOpProgressCallback reports nothing.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(int)         {}
func (NoOpProgressCallback) OnProgress(int, int) {}
func (NoOpProgressCallback) OnComplete()         {}
func (NoOpProgressCallback) OnError(int, error)  {}

// ConsoleProgressCallback draws a progress bar on a terminal.
type ConsoleProgressCallback struct {
	writer         io.Writer
	prefix         string
	width          int
	updateInterval time.Duration
	showRate       bool

	mu         sync.Mutex
	startTime  time.Time
	lastUpdate time.Time
}

// NewConsoleProgressCallback writes to w, or stderr when w is nil.
func NewConsoleProgressCallback(w io.Writer, prefix string) *ConsoleProgressCallback {
	if w == nil {
		w = os.Stderr
	}
	return &ConsoleProgressCallback{
		writer:         w,
		prefix:         prefix,
		width:          40,
		updateInterval: 100 * time.Millisecond,
		showRate:       true,
	}
}

// WithWidth sets the bar width in characters.
func (c *ConsoleProgressCallback) WithWidth(width int) *ConsoleProgressCallback {
	if width > 0 {
		c.width = width
	}
	return c
}

// WithUpdateInterval limits redraws.
func (c *ConsoleProgressCallback) WithUpdateInterval(d time.Duration) *ConsoleProgressCallback {
	c.updateInterval = d
	return c
}

// WithRate toggles the images-per-second suffix.
func (c *ConsoleProgressCallback) WithRate(show bool) *ConsoleProgressCallback {
	c.showRate = show
	return c
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()
	c.lastUpdate = time.Time{}
	_, _ = fmt.Fprintf(c.writer, "%s0/%d (0.0%%)\n", c.prefix, total)
}

func (c *ConsoleProgressCallback) OnProgress(current, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.Sub(c.lastUpdate) < c.updateInterval && current < total {
		return
	}
	c.lastUpdate = now
	c.draw(current, total, now)
}

func (c *ConsoleProgressCallback) OnComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.writer, "\n%sCompleted in %v\n", c.prefix, time.Since(c.startTime).Round(time.Millisecond))
}

func (c *ConsoleProgressCallback) OnError(index int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.writer, "\n%sImage %d failed: %v\n", c.prefix, index, err)
}

func (c *ConsoleProgressCallback) draw(current, total int, now time.Time) {
	if total <= 0 {
		return
	}
	current = min(current, total)
	filled := c.width * current / total
	bar := strings.Repeat("#", filled) + strings.Repeat("-", c.width-filled)
	line := fmt.Sprintf("\r%s[%s] %d/%d (%.1f%%)", c.prefix, bar, current, total, float64(current)/float64(total)*100)
	if elapsed := now.Sub(c.startTime); c.showRate && elapsed > 0 && current > 0 {
		line += fmt.Sprintf(" %.1f/s", float64(current)/elapsed.Seconds())
	}
	_, _ = fmt.Fprint(c.writer, line)
}

// LogProgressCallback reports progress through slog every Interval images.
type LogProgressCallback struct {
	logger    *slog.Logger
	level     slog.Level
	interval  int
	lastLog   int
	startTime time.Time
}

// NewLogProgressCallback logs at level; a nil logger uses slog.Default().
func NewLogProgressCallback(logger *slog.Logger, level slog.Level) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, level: level, interval: 10}
}

// WithInterval sets how many images pass between two log lines.
func (l *LogProgressCallback) WithInterval(n int) *LogProgressCallback {
	if n > 0 {
		l.interval = n
	}
	return l
}

func (l *LogProgressCallback) OnStart(total int) {
	l.startTime = time.Now()
	l.lastLog = 0
	l.logger.Log(context.Background(), l.level, "recognition started", "images", total)
}

func (l *LogProgressCallback) OnProgress(current, total int) {
	if current-l.lastLog < l.interval && current != total {
		return
	}
	l.lastLog = current
	l.logger.Log(context.Background(), l.level, "recognition progress",
		"current", current,
		"total", total,
		"elapsed", time.Since(l.startTime).Round(time.Millisecond),
	)
}

func (l *LogProgressCallback) OnComplete() {
	l.logger.Log(context.Background(), l.level, "recognition completed", "elapsed", time.Since(l.startTime).Round(time.Millisecond))
}

func (l *LogProgressCallback) OnError(index int, err error) {
	l.logger.Error("image recognition failed", "image", index, "error", err)
}
