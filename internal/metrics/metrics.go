// ABOUTME: Prometheus collectors for join link activity
// ABOUTME: Nil-safe recording helpers plus an HTTP exposition server

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes Prometheus collectors for the bot.
type Metrics struct {
	admissions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	links      *prometheus.CounterVec
	bans       *prometheus.CounterVec
	commands   *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors against the provided registerer. When
// the registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// ObserveAdmission records the outcome of one membership notification.
func (m *Metrics) ObserveAdmission(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// LinkCreated counts a new gateway room.
func (m *Metrics) LinkCreated() {
	if m == nil {
		return
	}
	m.links.WithLabelValues("created").Inc()
}

// LinkRemoved counts a torn down gateway.
func (m *Metrics) LinkRemoved() {
	if m == nil {
		return
	}
	m.links.WithLabelValues("removed").Inc()
}

// Ban counts a ban issued during teardown.
func (m *Metrics) Ban(err error) {
	if m == nil {
		return
	}
	m.bans.WithLabelValues(status(err)).Inc()
}

// Command counts an executed chat command.
func (m *Metrics) Command(name string, err error) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	admissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "joinlink_admissions_total",
		Help: "Membership notifications handled by the admission pipeline, by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "joinlink_admission_duration_seconds",
		Help:    "Time spent deciding a single admission.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	links := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "joinlink_links_total",
		Help: "Join links created and removed.",
	}, []string{"action"})
	bans := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "joinlink_bans_total",
		Help: "Gateway members banned during teardown.",
	}, []string{"status"})
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "joinlink_commands_total",
		Help: "Chat commands executed, by command and status.",
	}, []string{"command", "status"})
	registerer.MustRegister(admissions, duration, links, bans, commands)
	return &Metrics{
		admissions: admissions,
		duration:   duration,
		links:      links,
		bans:       bans,
		commands:   commands,
	}
}

// Serve exposes gatherer on addr under path until ctx is cancelled.
func Serve(ctx context.Context, addr, path string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down metrics server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
