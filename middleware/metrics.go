package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/frankli0324/go-asynchttp/internal"
	"github.com/frankli0324/go-asynchttp/internal/handle"
	ihttp "github.com/frankli0324/go-asynchttp/internal/http"
)

// Metrics collects request counts, time to response headers and the number of
// request states the engine may still call back into.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	anchored prometheus.GaugeFunc
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "asynchttp",
			Name:      "requests_total",
			Help:      "Requests by method and status code, code is \"error\" for failed requests.",
		}, []string{"method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "asynchttp",
			Name:      "response_headers_seconds",
			Help:      "Time from sending a request to receiving its response headers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		anchored: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "asynchttp",
			Name:      "anchored_states",
			Help:      "Request states kept alive for the engine.",
		}, func() float64 { return float64(handle.Count()) }),
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.requests.Describe(ch)
	m.latency.Describe(ch)
	m.anchored.Describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.requests.Collect(ch)
	m.latency.Collect(ch)
	m.anchored.Collect(ch)
}

// Middleware records every request passing through it.
func (m *Metrics) Middleware() internal.Middleware {
	return func(next internal.Handler) internal.Handler {
		return func(ctx context.Context, req *internal.PreparedRequest) (*ihttp.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				m.requests.WithLabelValues(req.Method, "error").Inc()
				return resp, err
			}
			m.latency.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
			m.requests.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()
			return resp, nil
		}
	}
}
