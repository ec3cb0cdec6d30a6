package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Command execution metrics
var (
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codespace_commands_total",
			Help: "Total command executions by outcome",
		},
		[]string{"outcome"}, // ok, failed, timeout, spawn_error
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codespace_command_duration_seconds",
			Help:    "Wall-clock time of command executions by outcome",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0, 60.0},
		},
		[]string{"outcome"}, // same values as CommandsTotal
	)

	CommandOutputTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "codespace_command_output_truncated_total",
			Help: "Command executions whose output exceeded the capture cap",
		},
	)
)

// Collaboration metrics
var (
	RoomsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codespace_rooms_active",
			Help: "Number of live collaboration rooms",
		},
	)

	StreamsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "codespace_streams_active",
			Help: "Number of open broadcast streams",
		},
		[]string{"transport"},
	)

	RoomEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codespace_room_events_total",
			Help: "Submitted room events by type and result",
		},
		[]string{"type", "result"}, // type is one of the known event types or "unknown"
	)

	SubscriberOverflowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "codespace_subscriber_overflows_total",
			Help: "Streams closed because their consumer fell behind",
		},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codespace_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codespace_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		CommandsTotal,
		CommandDuration,
		CommandOutputTruncatedTotal,
		RoomsActive,
		StreamsActive,
		RoomEventsTotal,
		SubscriberOverflowsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EchoMiddleware returns Echo middleware that instruments HTTP requests.
// Long-lived stream requests are observed once, when they end.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			HTTPRequestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				strconv.Itoa(status),
			).Inc()
			HTTPRequestDuration.WithLabelValues(c.Request().Method, c.Path()).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}
