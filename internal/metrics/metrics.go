// Package metrics exposes a dedicated Prometheus registry for the
// runtime's ambient observability: package opens, attach outcomes, poll
// loop iterations, and export records. None of this is part of the core
// pipeline's contract — it is pure ambient instrumentation, same as the
// teacher's internal/metrics package.
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eunomia"

var (
	// Registry is a dedicated Prometheus registry for all runtime metrics.
	Registry = prometheus.NewRegistry()

	// PackageOpenTotal counts PackageCodec.Open calls by outcome.
	PackageOpenTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "package_open_total",
			Help:      "Total number of package open attempts",
		},
		[]string{"outcome"}, // ok | malformed
	)

	// AttachDuration measures load-and-attach latency.
	AttachDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attach_duration_ms",
			Help:      "Duration of load-and-attach in milliseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)

	// AttachTotal counts load-and-attach outcomes.
	AttachTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attach_total",
			Help:      "Total number of load-and-attach attempts",
		},
		[]string{"outcome"}, // ok | load_failed | attach_failed | missing_btf | error
	)

	// PollIterationsTotal counts poll-loop iterations by channel kind.
	PollIterationsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_iterations_total",
			Help:      "Total number of poll loop iterations",
		},
		[]string{"channel"}, // ringbuf | perfarray | sample | noexport
	)

	// ExportRecordsTotal counts rendered export records by format.
	ExportRecordsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_records_total",
			Help:      "Total number of exported records rendered",
		},
		[]string{"format"}, // plain | json | raw
	)

	// RuntimeInfo exposes static information about the running process.
	RuntimeInfo = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runtime_info",
			Help:      "Static information about the running process",
		},
		[]string{"os", "arch", "version"},
	)

	// Up is a liveness gauge for the runtime.
	Up = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "1 if the runtime process is running and healthy",
		},
	)
)

func init() {
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	Registry.MustRegister(prometheus.NewGoCollector())
	Up.Set(1)
}

// SetRuntimeInfo publishes a single info metric for the running process.
func SetRuntimeInfo(osName, arch, version string) {
	if osName == "" {
		osName = runtime.GOOS
	}
	if arch == "" {
		arch = runtime.GOARCH
	}
	if version == "" {
		version = "dev"
	}
	RuntimeInfo.WithLabelValues(osName, arch, version).Set(1)
}

// ObservePackageOpen records a PackageCodec.Open outcome.
func ObservePackageOpen(outcome string) {
	PackageOpenTotal.WithLabelValues(outcome).Inc()
}

// ObserveAttach records load-and-attach timing and outcome.
func ObserveAttach(start time.Time, outcome string) {
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	AttachDuration.Observe(elapsed)
	AttachTotal.WithLabelValues(outcome).Inc()
}

// ObservePollIteration records one poll-loop iteration for a channel kind.
func ObservePollIteration(channel string) {
	PollIterationsTotal.WithLabelValues(channel).Inc()
}

// ObserveExportRecord records one rendered export record.
func ObserveExportRecord(format string) {
	ExportRecordsTotal.WithLabelValues(format).Inc()
}

// Serve starts the /metrics HTTP endpoint on the provided address.
func Serve(ctx context.Context, addr string, logger *log.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = log.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	srv := &http.Server{Addr: addr, Handler: mux}

	idleClosed := make(chan struct{})
	go func() {
		defer close(idleClosed)
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Printf("[metrics] Prometheus endpoint listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-idleClosed
		return nil
	}

	return err
}
