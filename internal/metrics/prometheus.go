package metrics

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tis24dev/vzsave/internal/logging"
	"github.com/tis24dev/vzsave/pkg/utils"
)

// TextfileName is the file node_exporter picks up from the textfile directory.
const TextfileName = "vzsave.prom"

// outcomes exported as the status label of vzsave_machine_status.
var outcomes = []string{"success", "backup-failed", "storage-failed"}

// MachineMetrics is the per-machine part of a run.
type MachineMetrics struct {
	ID                   string
	Outcome              string
	Duration             time.Duration
	BytesUploaded        int64
	RotatedFiles         int
	NotificationFailures int
}

// RunMetrics represents the subset of run statistics exported as Prometheus metrics.
type RunMetrics struct {
	Hostname string
	Version  string

	StartTime time.Time
	EndTime   time.Time
	ExitCode  int

	Machines []MachineMetrics
}

// PrometheusExporter writes run metrics in Prometheus textfile format for node_exporter.
type PrometheusExporter struct {
	textfileDir string
	logger      *logging.Logger
}

// NewPrometheusExporter creates a new PrometheusExporter using the provided directory.
func NewPrometheusExporter(textfileDir string, logger *logging.Logger) *PrometheusExporter {
	return &PrometheusExporter{
		textfileDir: strings.TrimRight(textfileDir, "/"),
		logger:      logger,
	}
}

// Path returns the file Export writes.
func (pe *PrometheusExporter) Path() string {
	return filepath.Join(pe.textfileDir, TextfileName)
}

// Export writes the given metrics snapshot atomically to vzsave.prom.
func (pe *PrometheusExporter) Export(m *RunMetrics) error {
	if pe == nil || m == nil {
		return nil
	}
	if pe.textfileDir == "" {
		return fmt.Errorf("metrics textfile directory is empty")
	}
	if err := utils.EnsureDir(pe.textfileDir); err != nil {
		return fmt.Errorf("create metrics directory %s: %w", pe.textfileDir, err)
	}

	registry := prometheus.NewRegistry()
	if err := register(registry, m); err != nil {
		return err
	}

	if err := prometheus.WriteToTextfile(pe.Path(), registry); err != nil {
		return fmt.Errorf("write metrics file %s: %w", pe.Path(), err)
	}
	if pe.logger != nil {
		pe.logger.Debug("Prometheus metrics exported to %s", pe.Path())
	}
	return nil
}

func register(registry *prometheus.Registry, m *RunMetrics) error {
	start := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vzsave_run_start_time_seconds",
		Help: "Unix timestamp of the run start",
	})
	end := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vzsave_run_end_time_seconds",
		Help: "Unix timestamp of the run end",
	})
	exitCode := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vzsave_run_exit_code",
		Help: "Exit code of the last run",
	})
	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vzsave_info",
		Help: "Static information about this vzsave instance",
	}, []string{"hostname", "version"})

	status := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vzsave_machine_status",
		Help: "Outcome of the last backup per machine (1 for the current status)",
	}, []string{"machine", "status"})
	duration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vzsave_machine_duration_seconds",
		Help: "Duration of the last backup per machine",
	}, []string{"machine"})
	uploaded := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vzsave_machine_uploaded_bytes",
		Help: "Bytes uploaded to FTP by the last run per machine",
	}, []string{"machine"})
	rotated := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vzsave_machine_rotated_files",
		Help: "Remote archives deleted by retention in the last run per machine",
	}, []string{"machine"})
	notifyFailures := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vzsave_machine_notification_failures",
		Help: "Notifications that could not be delivered in the last run per machine",
	}, []string{"machine"})

	for _, c := range []prometheus.Collector{start, end, exitCode, info, status, duration, uploaded, rotated, notifyFailures} {
		if err := registry.Register(c); err != nil {
			return fmt.Errorf("register metric: %w", err)
		}
	}

	start.Set(float64(m.StartTime.Unix()))
	endTime := m.EndTime
	if endTime.IsZero() {
		endTime = m.StartTime
	}
	end.Set(float64(endTime.Unix()))
	exitCode.Set(float64(m.ExitCode))
	info.WithLabelValues(m.Hostname, m.Version).Set(1)

	for _, mm := range m.Machines {
		for _, outcome := range outcomes {
			value := 0.0
			if outcome == mm.Outcome {
				value = 1
			}
			status.WithLabelValues(mm.ID, outcome).Set(value)
		}
		duration.WithLabelValues(mm.ID).Set(mm.Duration.Seconds())
		uploaded.WithLabelValues(mm.ID).Set(float64(mm.BytesUploaded))
		rotated.WithLabelValues(mm.ID).Set(float64(mm.RotatedFiles))
		notifyFailures.WithLabelValues(mm.ID).Set(float64(mm.NotificationFailures))
	}
	return nil
}
