package app

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/rcrowley/go-metrics"

	"github.com/kaspanet/dagsync/infrastructure/logger"
)

// metricsLogger periodically writes a snapshot of a metrics registry to
// the log
type metricsLogger struct {
	registry metrics.Registry
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func newMetricsLogger(registry metrics.Registry, interval time.Duration) *metricsLogger {
	return &metricsLogger{
		registry: registry,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (m *metricsLogger) start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	spawn("metricsLogger.loop", func() {
		defer close(m.done)
		m.loop(ctx)
	})
}

func (m *metricsLogger) stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *metricsLogger) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Infof("Sync metrics: %s", m.summary())
			log.Tracef("%s", logger.NewLogClosure(func() string {
				return spew.Sdump(m.registry.GetAll())
			}))
		}
	}
}

// summary returns every counter and gauge of the registry as name=value
// pairs, sorted by name
func (m *metricsLogger) summary() string {
	var entries []string
	m.registry.Each(func(name string, metric interface{}) {
		switch metric := metric.(type) {
		case metrics.Counter:
			entries = append(entries, name+"="+strconv.FormatInt(metric.Count(), 10))
		case metrics.Gauge:
			entries = append(entries, name+"="+strconv.FormatInt(metric.Value(), 10))
		}
	})
	sort.Strings(entries)
	return strings.Join(entries, " ")
}
