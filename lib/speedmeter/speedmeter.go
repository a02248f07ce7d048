// Package speedmeter tracks a sliding-window average throughput across
// the last N copy cycles, purely for status reporting.
package speedmeter

import "time"

// Meter computes a trailing average of bytes/second over at most
// maxSamples cycles.
type Meter struct {
	maxSamples int
	start      time.Time
	elapsed    []float64
	bytes      []int64
	average    *float64
}

// New returns a Meter averaging over at most maxSamples cycles.
func New(maxSamples int) *Meter {
	return &Meter{maxSamples: maxSamples}
}

// StartOfCycle marks the beginning of a copy cycle.
func (m *Meter) StartOfCycle() {
	m.start = time.Now()
}

// EndOfCycle records that bytesCopied bytes were copied since the matching
// StartOfCycle, trims the window to maxSamples, and recomputes the average.
func (m *Meter) EndOfCycle(bytesCopied int64) {
	m.elapsed = append(m.elapsed, time.Since(m.start).Seconds())
	m.bytes = append(m.bytes, bytesCopied)
	if len(m.elapsed) > m.maxSamples {
		m.elapsed = m.elapsed[len(m.elapsed)-m.maxSamples:]
		m.bytes = m.bytes[len(m.bytes)-m.maxSamples:]
	}

	var sumSeconds float64
	var sumBytes int64
	for i := range m.elapsed {
		sumSeconds += m.elapsed[i]
		sumBytes += m.bytes[i]
	}
	if sumSeconds <= 0 {
		return
	}
	avg := float64(sumBytes) / sumSeconds
	m.average = &avg
}

// Average returns the current average bytes/second, or (0, false) until
// at least one cycle has completed.
func (m *Meter) Average() (float64, bool) {
	if m.average == nil {
		return 0, false
	}
	return *m.average, true
}
