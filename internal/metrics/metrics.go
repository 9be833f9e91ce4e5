// Package metrics exposes the scheduler's Prometheus collectors. Booking and
// notifier counters are fed from the event bus; pending bookings and engine
// queues are read on scrape.
package metrics

import (
	"context"
	"net/http"
	"strings"

	"bookingsched/internal/booking"
	"bookingsched/internal/eventbus"
	"bookingsched/internal/task/engine"
	logx "bookingsched/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bookingsched"

// EngineSource is satisfied by *engine.Service.
type EngineSource interface {
	Snapshot() engine.Snapshot
}

type Metrics struct {
	reg *prometheus.Registry
	log logx.Logger

	bookingEvents *prometheus.CounterVec
	bookingFails  *prometheus.CounterVec
	fireDuration  prometheus.Histogram
	notifications *prometheus.CounterVec
	taskEvents    *prometheus.CounterVec
}

// New builds a private registry with the Go and process collectors, the
// event-driven counters, and scrape-time gauges for pending bookings and
// each engine.
func New(pending func() int, engines []EngineSource, log logx.Logger) *Metrics {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		log: log.With(logx.String("comp", "metrics")),
		bookingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "events_total",
			Help:      "Booking lifecycle events by type.",
		}, []string{"event"}),
		bookingFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "failures_total",
			Help:      "Booking fire failures by stage.",
		}, []string{"stage"}),
		fireDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "fire_duration_seconds",
			Help:      "Time from fire to completion, including processing and notification.",
			Buckets:   prometheus.DefBuckets,
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "events_total",
			Help:      "Notification outcomes.",
		}, []string{"outcome"}),
		taskEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "events_total",
			Help:      "Task engine events by type.",
		}, []string{"event"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.bookingEvents, m.bookingFails, m.fireDuration, m.notifications, m.taskEvents,
	)
	if pending != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "pending",
			Help:      "Bookings registered and waiting to fire.",
		}, func() float64 { return float64(pending()) }))
	}
	if len(engines) > 0 {
		m.reg.MustRegister(&engineCollector{engines: engines})
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Observe updates counters for one bus event.
func (m *Metrics) Observe(e eventbus.Event) {
	switch {
	case strings.HasPrefix(e.Type, "booking."):
		m.bookingEvents.WithLabelValues(strings.TrimPrefix(e.Type, "booking.")).Inc()
		ev, ok := e.Data.(booking.Event)
		if !ok {
			return
		}
		switch e.Type {
		case booking.EventFailed:
			m.bookingFails.WithLabelValues(ev.Stage).Inc()
		case booking.EventCompleted:
			m.fireDuration.Observe(ev.Took.Seconds())
		}
	case strings.HasPrefix(e.Type, "notifier."):
		m.notifications.WithLabelValues(strings.TrimPrefix(e.Type, "notifier.")).Inc()
	case strings.HasPrefix(e.Type, "task."):
		m.taskEvents.WithLabelValues(strings.TrimPrefix(e.Type, "task.")).Inc()
	}
}

// Run feeds Observe from bus until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	m.log.Debug("metrics consumer started")
	err := eventbus.Consume(ctx, bus, 256, m.Observe, "booking.", "notifier.", "task.")
	if ctx.Err() != nil {
		return nil
	}
	return err
}

var (
	engineQueueLen = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "engine", "queue_length"),
		"Tasks waiting in the engine queue.", []string{"engine"}, nil)
	engineInFlight = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "engine", "in_flight"),
		"Tasks currently running.", []string{"engine"}, nil)
	engineTasks = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "engine", "tasks_total"),
		"Tasks finished by outcome.", []string{"engine", "outcome"}, nil)
)

type engineCollector struct {
	engines []EngineSource
}

func (c *engineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- engineQueueLen
	ch <- engineInFlight
	ch <- engineTasks
}

func (c *engineCollector) Collect(ch chan<- prometheus.Metric) {
	for _, e := range c.engines {
		s := e.Snapshot()
		ch <- prometheus.MustNewConstMetric(engineQueueLen, prometheus.GaugeValue, float64(s.QueueLen), s.Name)
		ch <- prometheus.MustNewConstMetric(engineInFlight, prometheus.GaugeValue, float64(s.InFlight), s.Name)
		ch <- prometheus.MustNewConstMetric(engineTasks, prometheus.CounterValue, float64(s.Completed), s.Name, "completed")
		ch <- prometheus.MustNewConstMetric(engineTasks, prometheus.CounterValue, float64(s.Failed), s.Name, "failed")
		ch <- prometheus.MustNewConstMetric(engineTasks, prometheus.CounterValue, float64(s.DroppedQueueFull), s.Name, "dropped_queue_full")
		ch <- prometheus.MustNewConstMetric(engineTasks, prometheus.CounterValue, float64(s.DroppedStale), s.Name, "dropped_stale")
	}
}
