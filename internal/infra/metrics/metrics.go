// internal/infra/metrics/metrics.go
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/app/task"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/pipeline"
)

const namespace = "mpflow"

// ComposeCounter 统计创作队列中各状态的任务数
type ComposeCounter interface {
	Count(ctx context.Context, ownerID string, statuses []string) (int, error)
}

// Metrics 任务执行与队列指标
type Metrics struct {
	registry     *prometheus.Registry
	ticks        *prometheus.CounterVec
	reasons      *prometheus.CounterVec
	tickDuration *prometheus.HistogramVec
	updated      prometheus.Counter
}

// New 创建独立的 Registry，避免和默认 Registry 中的其它指标混在一起
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Pipeline executions by task type and outcome.",
		}, []string{"task_type", "status"}),
		reasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_reasons_total",
			Help:      "Reasons recorded by pipeline executions.",
		}, []string{"reason"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of a pipeline execution.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"task_type"}),
		updated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawled_articles_total",
			Help:      "Newly stored source articles.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.ticks, m.reasons, m.tickDuration, m.updated,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("注册指标失败: %w", err)
		}
	}
	return m, nil
}

// ObserveTick 实现 pipeline.TickObserver
func (m *Metrics) ObserveTick(taskType string, rep *pipeline.Report, elapsed time.Duration) {
	if m == nil || rep == nil {
		return
	}
	status := "ok"
	if rep.Failed {
		status = "failed"
	}
	m.ticks.WithLabelValues(taskType, status).Inc()
	m.tickDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
	for _, r := range rep.Reasons {
		m.reasons.WithLabelValues(r).Inc()
	}
	if rep.UpdateCount > 0 {
		m.updated.Add(float64(rep.UpdateCount))
	}
}

// WatchBroker 抓取时读取调度器的实时状态
func (m *Metrics) WatchBroker(stats func() task.Stats) error {
	gauges := []struct {
		name, help string
		read       func(task.Stats) int
	}{
		{"broker_scheduled", "Cron entries currently registered.", func(s task.Stats) int { return s.Scheduled }},
		{"broker_pending", "Dedupe keys held by queued or running jobs.", func(s task.Stats) int { return s.Pending }},
		{"broker_queued", "Jobs waiting for a worker.", func(s task.Stats) int { return s.Queued }},
		{"broker_workers", "Worker goroutines.", func(s task.Stats) int { return s.Workers }},
		{"broker_dropped", "Jobs dropped because the queue was full.", func(s task.Stats) int { return s.Dropped }},
		{"broker_running", "Tasks currently executing.", func(s task.Stats) int { return s.Running }},
		{"broker_waiting", "Ticks waiting for the same task to finish.", func(s task.Stats) int { return s.Waiting }},
	}
	for _, g := range gauges {
		err := m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      g.name,
			Help:      g.help,
		}, func() float64 { return float64(g.read(stats())) }))
		if err != nil {
			return fmt.Errorf("注册调度器指标 %s 失败: %w", g.name, err)
		}
	}
	return nil
}

// WatchCompose 创作队列积压，按状态分别导出
func (m *Metrics) WatchCompose(counter ComposeCounter) error {
	for _, status := range []string{model.JobStatusPending, model.JobStatusProcessing, model.JobStatusFailed} {
		err := m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "compose_jobs",
			Help:        "Compose jobs by status.",
			ConstLabels: prometheus.Labels{"status": status},
		}, func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := counter.Count(ctx, "", []string{status})
			if err != nil {
				return -1
			}
			return float64(n)
		}))
		if err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return fmt.Errorf("注册创作队列指标失败: %w", err)
		}
	}
	return nil
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var _ pipeline.TickObserver = (*Metrics)(nil)
