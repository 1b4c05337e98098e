// Package transport holds the pieces shared by the upload transports:
// a progress-reporting reader and content type detection.
package transport

import (
	"bufio"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	DefaultTickBytes    int64 = 256 << 10
	DefaultTickInterval       = 250 * time.Millisecond
	sniffLen                  = 3072
)

// ProgressReader counts bytes read through it and reports the running total
// at most once per tickBytes or tickInterval, plus once at EOF.
type ProgressReader struct {
	r            io.Reader
	report       func(total int64, at time.Time)
	now          func() time.Time
	tickBytes    int64
	tickInterval time.Duration

	total        int64
	lastReported int64
	lastAt       time.Time
	done         bool
}

func NewProgressReader(r io.Reader, report func(total int64, at time.Time)) *ProgressReader {
	return &ProgressReader{
		r:            r,
		report:       report,
		now:          time.Now,
		tickBytes:    DefaultTickBytes,
		tickInterval: DefaultTickInterval,
	}
}

// WithTick overrides the reporting thresholds.
func (p *ProgressReader) WithTick(bytes int64, interval time.Duration) *ProgressReader {
	p.tickBytes = bytes
	p.tickInterval = interval
	return p
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.total += int64(n)
		now := p.now()
		if p.total-p.lastReported >= p.tickBytes || now.Sub(p.lastAt) >= p.tickInterval {
			p.emit(now)
		}
	}
	if err == io.EOF && !p.done {
		p.done = true
		if p.total != p.lastReported || p.lastAt.IsZero() {
			p.emit(p.now())
		}
	}
	return n, err //nolint:wrapcheck // io.Reader contract
}

// Total is the number of bytes read so far.
func (p *ProgressReader) Total() int64 { return p.total }

func (p *ProgressReader) emit(at time.Time) {
	p.lastReported = p.total
	p.lastAt = at
	if p.report != nil {
		p.report(p.total, at)
	}
}

// DetectContentType sniffs the head of r and returns the MIME type together
// with a reader that still yields the full stream.
func DetectContentType(r io.Reader) (string, io.Reader) {
	buffered := bufio.NewReaderSize(r, sniffLen)
	head, _ := buffered.Peek(sniffLen)
	return mimetype.Detect(head).String(), buffered
}
