package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "railtrans"

// Prom holds every collector the API and worker export. A nil *Prom is valid
// wherever the helpers below are used.
type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec

	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	JobDuration  *prometheus.HistogramVec
	JobResults   *prometheus.CounterVec // result=done|retry|failed
	JobsInFlight prometheus.Gauge

	OTPSends           *prometheus.CounterVec // result=sent|existing|throttled|error
	OTPVerifications   *prometheus.CounterVec
	CouponReservations *prometheus.CounterVec
	PaymentOrders      *prometheus.CounterVec
	Registrations      *prometheus.CounterVec // source=public|admin
	EmailsSent         *prometheus.CounterVec
}

func counter(f promauto.Factory, subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func histogram(f promauto.Factory, subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
}

// NewProm registers all collectors on reg. It panics on duplicate registration.
func NewProm(reg prometheus.Registerer) *Prom {
	f := promauto.With(reg)

	return &Prom{
		RequestsTotal: counter(f, "", "http_requests_total",
			"Total HTTP requests processed.", "method", "route", "status"),
		RequestsDuration: histogram(f, "", "http_request_duration_seconds",
			"HTTP request latency.", prometheus.DefBuckets, "method", "route", "status"),
		InFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "http_in_flight_requests",
			Help: "Requests currently being served.",
		}, []string{"method", "route"}),

		DbQueryDuration: histogram(f, "db", "query_duration_seconds",
			"Latency per logical repository operation.",
			[]float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2, 5}, "op", "status"),
		DbErrorsTotal: counter(f, "db", "errors_total",
			"Repository errors by operation and class.", "op", "class"),

		JobDuration: histogram(f, "jobs", "duration_seconds",
			"Job run time by type and result.",
			[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}, "job_type", "result"),
		JobResults: counter(f, "jobs", "results_total",
			"Job outcomes by type and result.", "job_type", "result"),
		JobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "in_flight",
			Help: "Jobs executing in this process.",
		}),

		OTPSends: counter(f, "otp", "sends_total",
			"OTP send attempts by role and result.", "role", "result"),
		OTPVerifications: counter(f, "otp", "verifications_total",
			"OTP verifications by role and result.", "role", "result"),
		CouponReservations: counter(f, "coupons", "reservations_total",
			"Coupon reserve and release outcomes.", "action", "result"),
		PaymentOrders: counter(f, "payments", "orders_total",
			"Payment orders by observed status.", "status"),
		Registrations: counter(f, "", "registrations_total",
			"Registrations created by role and source.", "role", "source"),
		EmailsSent: counter(f, "mail", "sent_total",
			"Outgoing mail by kind and result.", "kind", "result"),
	}
}

// GinHandleMiddleware records request count, latency and in-flight gauge by
// route template. Unrouted paths share one "unmatched" label.
func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		method := ctx.Request.Method
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}

		inFlight := p.InFlight.WithLabelValues(method, route)
		inFlight.Inc()
		defer inFlight.Dec()

		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
	}
}

// Inc bumps c; nil c is a no-op so handlers built without metrics still work.
func Inc(c *prometheus.CounterVec, labels ...string) {
	if c != nil {
		c.WithLabelValues(labels...).Inc()
	}
}
