package upload

import "time"

type sample struct {
	at    time.Time
	bytes int64
}

// Estimator derives transfer speed from a ring of recent (time, bytes)
// samples. The ring holds at most size samples and spans at most window,
// keeping the newest sample at or before the window boundary as its start.
type Estimator struct {
	window  time.Duration
	samples []sample
	head    int
	count   int
}

func NewEstimator(window time.Duration, size int) *Estimator {
	if window <= 0 {
		window = defaultEstimatorWindow
	}
	if size < 2 {
		size = 2
	}
	return &Estimator{window: window, samples: make([]sample, size)}
}

func (e *Estimator) at(i int) sample {
	return e.samples[(e.head+i)%len(e.samples)]
}

func (e *Estimator) dropOldest() {
	e.head = (e.head + 1) % len(e.samples)
	e.count--
}

// Add records a sample. A sample older than the previous one resets the window.
func (e *Estimator) Add(at time.Time, bytes int64) {
	if e.count > 0 && at.Before(e.at(e.count-1).at) {
		e.Reset()
	}
	if e.count == len(e.samples) {
		e.dropOldest()
	}
	e.samples[(e.head+e.count)%len(e.samples)] = sample{at: at, bytes: bytes}
	e.count++

	boundary := at.Add(-e.window)
	for e.count >= 2 && !e.at(1).at.After(boundary) {
		e.dropOldest()
	}
}

func (e *Estimator) Reset() {
	e.head = 0
	e.count = 0
}

// Len is the number of retained samples.
func (e *Estimator) Len() int { return e.count }

// Speed returns bytes per second across the window, or nil until two samples
// with a non-zero time span exist.
func (e *Estimator) Speed() *float64 {
	if e.count < 2 {
		return nil
	}
	first, last := e.at(0), e.at(e.count-1)
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return nil
	}
	speed := float64(last.bytes-first.bytes) / elapsed
	return &speed
}

// ETA returns the seconds needed to move the remaining bytes at speed.
func ETA(speed *float64, total, uploaded int64) *float64 {
	if speed == nil || *speed <= 0 {
		return nil
	}
	remaining := total - uploaded
	if remaining < 0 {
		remaining = 0
	}
	eta := float64(remaining) / *speed
	return &eta
}
