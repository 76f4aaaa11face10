package dedup

import (
	"sync"
	"time"
)

// rateWindow is the sliding window for the rolling ingest rate.
const rateWindow = 30 * time.Second

// Progress tracks live counters for one indexing cycle. Safe for
// concurrent use by batch workers.
type Progress struct {
	clock Clock

	mu        sync.Mutex
	startedAt time.Time
	scanned   int64
	ingested  int64
	failed    int64
	bytes     int64
	samples   []rateSample
}

type rateSample struct {
	at    time.Time
	count int64
}

// ProgressSnapshot is a point-in-time view of cycle progress.
type ProgressSnapshot struct {
	Scanned      int64
	Ingested     int64
	Failed       int64
	Bytes        int64
	FilesPerSec  float64
	ETA          time.Duration // zero when unknown
	Elapsed      time.Duration
}

// NewProgress creates a Progress starting now.
func NewProgress(clock Clock) *Progress {
	return &Progress{clock: clock, startedAt: clock.Now()}
}

// AddScanned records files discovered by the scanner.
func (p *Progress) AddScanned(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scanned += n
}

// AddIngested records successfully ingested files and their bytes.
func (p *Progress) AddIngested(files, bytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ingested += files
	p.bytes += bytes
	now := p.clock.Now()
	p.samples = append(p.samples, rateSample{at: now, count: files})
	p.trimSamples(now)
}

// AddFailed records ingest failures.
func (p *Progress) AddFailed(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed += n
}

// Snapshot returns the current counters with a rolling rate and an ETA
// based on the scanned-but-not-yet-settled backlog.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	p.trimSamples(now)

	var windowCount int64
	for _, s := range p.samples {
		windowCount += s.count
	}

	var rate float64
	if len(p.samples) > 0 {
		span := now.Sub(p.samples[0].at)
		if span <= 0 {
			span = time.Second
		}
		rate = float64(windowCount) / span.Seconds()
	}

	snap := ProgressSnapshot{
		Scanned:     p.scanned,
		Ingested:    p.ingested,
		Failed:      p.failed,
		Bytes:       p.bytes,
		FilesPerSec: rate,
		Elapsed:     now.Sub(p.startedAt),
	}

	remaining := p.scanned - p.ingested - p.failed
	if remaining > 0 && rate > 0 {
		snap.ETA = time.Duration(float64(remaining)/rate) * time.Second
	}
	return snap
}

func (p *Progress) trimSamples(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(p.samples) && p.samples[i].at.Before(cutoff) {
		i++
	}
	p.samples = p.samples[i:]
}
