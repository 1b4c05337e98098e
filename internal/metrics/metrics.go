package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	UploadsEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nasupload_uploads_enqueued_total",
			Help: "Total number of uploads enqueued",
		},
	)
	UploadsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nasupload_uploads_finished_total",
			Help: "Total number of uploads that reached a terminal status",
		},
		[]string{"status"},
	)
	UploadedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nasupload_uploaded_bytes_total",
			Help: "Total number of bytes reported as uploaded",
		},
	)
	UploadsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nasupload_uploads_active",
			Help: "Number of uploads currently transferring",
		},
	)
	UploadsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nasupload_uploads_pending",
			Help: "Number of uploads waiting for a free slot",
		},
	)
	UploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nasupload_upload_duration_seconds",
			Help:    "Time from admission to terminal status",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
	)
)

func init() {
	prometheus.MustRegister(UploadsEnqueued)
	prometheus.MustRegister(UploadsFinished)
	prometheus.MustRegister(UploadedBytes)
	prometheus.MustRegister(UploadsActive)
	prometheus.MustRegister(UploadsPending)
	prometheus.MustRegister(UploadDuration)
}
