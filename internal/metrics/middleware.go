package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/combostatic/internal/httpmw"
)

// Middleware records in-flight, count, latency and response size per
// method and route. It sits outside the router, so it seeds a chi route
// context that the router fills in and the label is read after next returns.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chi.RouteContext(r.Context()) == nil {
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
		}

		m.inflight.Inc()
		snoop := httpsnoop.CaptureMetricsFn(w, func(w http.ResponseWriter) {
			next.ServeHTTP(w, r)
		})
		m.inflight.Dec()

		m.observeRequest(r, snoop)
	})
}

func (m *ServerMetrics) observeRequest(r *http.Request, snoop httpsnoop.Metrics) {
	method := r.Method
	route := httpmw.RouteLabel(r, m.classify)

	m.reqTotal.WithLabelValues(method, route, strconv.Itoa(snoop.Code)).Inc()
	if snoop.Code >= 500 {
		m.errorsTotal.WithLabelValues(method, route).Inc()
	}

	dur := m.reqDur.WithLabelValues(method, route)
	eo, ok := dur.(prometheus.ExemplarObserver)
	if ex := traceExemplar(r.Context()); ex != nil && ok {
		eo.ObserveWithExemplar(snoop.Duration.Seconds(), ex)
	} else {
		dur.Observe(snoop.Duration.Seconds())
	}

	m.respBytes.WithLabelValues(method, route).Observe(float64(snoop.Written))
}

// traceExemplar links a latency sample to its trace, sampled traces only.
func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
