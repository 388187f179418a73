package reindex

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// progressTracker reports reindex progress to a writer at a fixed interval.
type progressTracker struct {
	mu             sync.Mutex
	writer         io.Writer
	total          int
	current        int
	reportInterval int
	lastReported   int
	startTime      time.Time
	started        bool
}

func newProgressTracker(writer io.Writer, total, reportInterval int) *progressTracker {
	if reportInterval < 1 {
		reportInterval = 1
	}
	return &progressTracker{
		writer:         writer,
		total:          total,
		reportInterval: reportInterval,
	}
}

func (p *progressTracker) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startTime = time.Now()
	p.started = true
	p.current = 0
	p.lastReported = 0
}

func (p *progressTracker) update(current int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	if current > p.total {
		current = p.total
	}
	p.current = current
	if p.current-p.lastReported >= p.reportInterval {
		p.report()
		p.lastReported = p.current
	}
}

func (p *progressTracker) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.current = p.total
	p.report()
	fmt.Fprintln(p.writer)
}

func (p *progressTracker) elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return 0
	}
	return time.Since(p.startTime)
}

// report prints the current progress. Must be called with lock held.
func (p *progressTracker) report() {
	elapsed := time.Since(p.startTime)
	rate := 0.0
	if elapsed.Seconds() > 0 {
		rate = float64(p.current) / elapsed.Seconds()
	}
	percentage := 0.0
	if p.total > 0 {
		percentage = 100 * float64(p.current) / float64(p.total)
	}
	fmt.Fprintf(p.writer, "\rreindexed %d/%d chunks (%.1f%%, %.1f/s)",
		p.current, p.total, percentage, rate)
}
