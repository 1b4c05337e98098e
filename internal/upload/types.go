package upload

import (
	"context"
	"io"
	"sort"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// Task is a point-in-time copy of one upload. Values handed out by the
// Manager never alias its internal state.
type Task struct {
	ID               string     `json:"id"`
	Seq              uint64     `json:"seq"`
	Filename         string     `json:"filename"`
	Destination      string     `json:"destination"`
	TotalBytes       int64      `json:"total_bytes"`
	UploadedBytes    int64      `json:"uploaded_bytes"`
	Status           Status     `json:"status"`
	Percentage       float64    `json:"percentage"`
	SpeedBytesPerSec *float64   `json:"speed_bytes_per_sec"`
	ETASeconds       *float64   `json:"eta_seconds"`
	Error            string     `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

// State is the read-only projection published to listeners.
type State struct {
	Seq               uint64          `json:"seq"`
	Tasks             map[string]Task `json:"tasks"`
	ActiveCount       int             `json:"active_count"`
	PendingCount      int             `json:"pending_count"`
	IsUploading       bool            `json:"is_uploading"`
	OverallPercentage float64         `json:"overall_percentage"`
}

// Ordered returns the tasks sorted by enqueue order.
func (s State) Ordered() []Task {
	out := make([]Task, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Listener receives every published State. It is called synchronously and
// must not call back into the Manager's commands.
type Listener func(State)

// Source is a file that can be uploaded.
type Source interface {
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// Request describes one transfer handed to a Transport.
type Request struct {
	ID          string
	Filename    string
	Destination string
	TotalBytes  int64
	Source      Source
}

// Hooks are the callbacks a Transport reports through. They may be called
// from any goroutine, including synchronously from Start.
type Hooks struct {
	OnProgress func(uploadedBytes int64, at time.Time)
	OnSuccess  func()
	OnFailure  func(err error)
}

// Handle is an opaque token identifying a started transfer to its Transport.
type Handle any

// Transport performs the byte transfer for a single upload.
type Transport interface {
	Start(ctx context.Context, req Request, hooks Hooks) Handle
	Cancel(h Handle)
}

type Options struct {
	MaxConcurrent   int
	Transport       Transport
	Store           TaskStore
	EstimatorWindow time.Duration
	EstimatorSize   int
	Clock           func() time.Time
}

const (
	defaultMaxConcurrent   = 3
	defaultEstimatorWindow = 5 * time.Second
	defaultEstimatorSize   = 32
)
