// Package metrics provides lock-free per-phase counters for the
// duplicate-detection pipeline, in the same spirit as the scanner's atomic
// stats struct: every counter is an atomic.Int64 so any worker goroutine
// can update it without contention, and a String method renders a
// consistent-enough snapshot for progress display.
package metrics

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Phase accumulates counters for one pipeline stage (scan, screen, hash,
// similarity, ...). Zero value is ready to use.
type Phase struct {
	FilesIn        atomic.Int64
	FilesRejected  atomic.Int64
	FilesHashed    atomic.Int64
	BytesHashed    atomic.Int64
	CacheHits      atomic.Int64
	CacheMisses    atomic.Int64
	BloomRejects   atomic.Int64
	startTime      time.Time
	ema            atomic.Int64 // bytes/sec, fixed-point (no decimals needed for display)
	lastSampleTime atomic.Int64 // unix nanos of last Sample call
	lastSampleByte atomic.Int64
}

// NewPhase creates a Phase with its start time set to now.
func NewPhase(now time.Time) *Phase {
	p := &Phase{startTime: now}
	p.lastSampleTime.Store(now.UnixNano())
	return p
}

// emaAlpha weights the most recent 2-second window against history, so
// throughput estimates respond to a burst or stall within a few windows
// without being dominated by a single one.
const emaAlpha = 0.3

// windowDuration is the minimum spacing between Sample calls; calling it
// more often than this is a no-op so a hot loop can call it unconditionally.
const windowDuration = 2 * time.Second

// Sample updates the exponential moving average throughput estimate. It
// should be called periodically (e.g. from a progress-bar tick) with the
// current wall-clock time; calls inside windowDuration of the previous
// sample are ignored.
func (p *Phase) Sample(now time.Time) {
	last := p.lastSampleTime.Load()
	elapsed := now.UnixNano() - last
	if elapsed < int64(windowDuration) {
		return
	}

	bytesNow := p.BytesHashed.Load()
	bytesDelta := bytesNow - p.lastSampleByte.Load()
	seconds := float64(elapsed) / float64(time.Second)
	if seconds <= 0 {
		return
	}

	instRate := float64(bytesDelta) / seconds
	prevRate := float64(p.ema.Load())
	newRate := emaAlpha*instRate + (1-emaAlpha)*prevRate

	p.ema.Store(int64(newRate))
	p.lastSampleTime.Store(now.UnixNano())
	p.lastSampleByte.Store(bytesNow)
}

// Throughput returns the current estimated bytes/sec, per the last Sample.
func (p *Phase) Throughput() int64 { return p.ema.Load() }

// ETA estimates the remaining duration to hash remainingBytes at the
// current throughput. Returns 0 if throughput is not yet known.
func (p *Phase) ETA(remainingBytes int64) time.Duration {
	rate := p.Throughput()
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(remainingBytes)/float64(rate)) * time.Second
}

// String renders a human-readable snapshot, in the scanner stats.String
// style: counts, byte sizes via humanize, and elapsed time.
func (p *Phase) String() string {
	return fmt.Sprintf(
		"in %d, rejected %d, hashed %d (%s), cache %d/%d, bloom-rejected %d, %s/s, %.1fs",
		p.FilesIn.Load(), p.FilesRejected.Load(), p.FilesHashed.Load(),
		humanize.IBytes(uint64(p.BytesHashed.Load())),
		p.CacheHits.Load(), p.CacheMisses.Load(), p.BloomRejects.Load(),
		humanize.IBytes(uint64(p.Throughput())),
		time.Since(p.startTime).Seconds(),
	)
}
