package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "judge"

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_processed_total",
		Help:      "Total number of frames processed",
	}, []string{"camera"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "faces_detected_total",
		Help:      "Total number of faces passing the quality gate",
	}, []string{"camera"})

	BodiesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bodies_detected_total",
		Help:      "Total number of person bodies detected",
	}, []string{"camera"})

	FacesRecognized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "faces_recognized_total",
		Help:      "Faces assigned to an existing visitor, by source",
	}, []string{"source"}) // gallery, collection

	VisitorsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "visitors_created_total",
		Help:      "Total number of visitors created",
	})

	VisitorEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "visitor_events_total",
		Help:      "Domain events published, by name",
	}, []string{"event"})

	TrackedVisitors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_visitors",
		Help:      "Number of visitors held in the in-memory registry",
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	FrameHandleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "frame_handle_duration_seconds",
		Help:      "Duration of identity resolution and persistence for one frame",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	FrameFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frame_failures_total",
		Help:      "Frames whose tracking transaction was rolled back",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweep_duration_seconds",
		Help:      "Duration of one timeout sweep",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	SweepFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_failures_total",
		Help:      "Visitors whose timeout update failed to persist",
	})

	BusHandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_handler_failures_total",
		Help:      "Event handler errors and panics, by event name",
	}, []string{"event"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Number of pending frame tasks in queue",
	})

	CollectionsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "collections_triggered_total",
		Help:      "Number of capture bursts started",
	})

	CaptureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capture_failures_total",
		Help:      "Failed single-frame grabs, by camera",
	}, []string{"camera"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
