package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/victornm/quiztaker/internal/domain"
	"github.com/victornm/quiztaker/internal/event"
)

const namespace = "quiztaker"

// AttemptMetrics counts attempt lifecycle events.
type AttemptMetrics struct {
	started        prometheus.Counter
	completed      *prometheus.CounterVec
	submitFailures *prometheus.CounterVec
	degraded       prometheus.Counter
	percentage     prometheus.Histogram
}

// NewAttemptMetrics registers the attempt metrics and keeps them up to date
// from the events on eb. live reports the number of attempts in memory.
func NewAttemptMetrics(reg prometheus.Registerer, eb *event.Bus, live func() int) *AttemptMetrics {
	f := promauto.With(reg)

	m := &AttemptMetrics{
		started: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_started_total",
			Help:      "Number of quiz attempts started.",
		}),
		completed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_completed_total",
			Help:      "Number of quiz attempts completed, by what triggered the submission.",
		}, []string{"trigger"}),
		submitFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_submission_failures_total",
			Help:      "Number of failed attempt submissions, by what triggered the submission.",
		}, []string{"trigger"}),
		degraded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_results_degraded_total",
			Help:      "Number of results reconciled against an incomplete quiz definition.",
		}),
		percentage: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_percentage",
			Help:      "Percentage scored by completed attempts.",
			Buckets:   []float64{20, 40, 60, 80, 100},
		}),
	}

	if live != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attempts_live",
			Help:      "Number of attempts held in memory.",
		}, func() float64 { return float64(live()) })
	}

	eb.Subscribe(domain.EventNameAttemptStarted, func(context.Context, event.Event) error {
		m.started.Inc()
		return nil
	})
	eb.Subscribe(domain.EventNameAttemptCompleted, func(_ context.Context, e event.Event) error {
		ev := e.(domain.EventAttemptCompleted)
		m.completed.WithLabelValues(ev.Trigger).Inc()
		m.percentage.Observe(ev.Result.Percentage)
		if ev.Result.Degraded {
			m.degraded.Inc()
		}
		return nil
	})
	eb.Subscribe(domain.EventNameAttemptSubmissionFailed, func(_ context.Context, e event.Event) error {
		m.submitFailures.WithLabelValues(e.(domain.EventAttemptSubmissionFailed).Trigger).Inc()
		return nil
	})

	return m
}

// HTTPMetrics returns a gin middleware observing request latency by route.
func HTTPMetrics(reg prometheus.Registerer) gin.HandlerFunc {
	duration := promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Latency of HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		duration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
