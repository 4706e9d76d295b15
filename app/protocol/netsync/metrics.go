package netsync

import (
	"sync"

	"github.com/rcrowley/go-metrics"
)

// Metric names registered by every NetworkSyncer
const (
	MetricBlocksSent        = "netsync.blocks.sent"
	MetricBlocksReceived    = "netsync.blocks.received"
	MetricSubscriptions     = "netsync.subscriptions"
	MetricLeaderTimeouts    = "netsync.leader.timeouts"
	MetricConnectionsActive = "netsync.connections.active"
	MetricSendTasksActive   = "netsync.sendtasks.active"
	MetricSendTasksPeak     = "netsync.sendtasks.peak"
)

// Metrics counts what a NetworkSyncer does
type Metrics struct {
	registry metrics.Registry

	blocksSent        metrics.Counter
	blocksReceived    metrics.Counter
	subscriptions     metrics.Counter
	leaderTimeouts    metrics.Counter
	connectionsActive metrics.Counter

	sendTasksLock   sync.Mutex
	sendTasksActive metrics.Counter
	sendTasksPeak   metrics.Gauge
}

func newMetrics() *Metrics {
	registry := metrics.NewRegistry()
	return &Metrics{
		registry:          registry,
		blocksSent:        metrics.NewRegisteredCounter(MetricBlocksSent, registry),
		blocksReceived:    metrics.NewRegisteredCounter(MetricBlocksReceived, registry),
		subscriptions:     metrics.NewRegisteredCounter(MetricSubscriptions, registry),
		leaderTimeouts:    metrics.NewRegisteredCounter(MetricLeaderTimeouts, registry),
		connectionsActive: metrics.NewRegisteredCounter(MetricConnectionsActive, registry),
		sendTasksActive:   metrics.NewRegisteredCounter(MetricSendTasksActive, registry),
		sendTasksPeak:     metrics.NewRegisteredGauge(MetricSendTasksPeak, registry),
	}
}

// Registry returns the registry holding all the metrics
func (m *Metrics) Registry() metrics.Registry {
	return m.registry
}

// BlocksSent returns the number of own blocks sent to peers
func (m *Metrics) BlocksSent() int64 {
	return m.blocksSent.Count()
}

// BlocksReceived returns the number of blocks received from peers
func (m *Metrics) BlocksReceived() int64 {
	return m.blocksReceived.Count()
}

// Subscriptions returns the number of subscriptions received from peers
func (m *Metrics) Subscriptions() int64 {
	return m.subscriptions.Count()
}

// LeaderTimeouts returns the number of times a block had to be forced
func (m *Metrics) LeaderTimeouts() int64 {
	return m.leaderTimeouts.Count()
}

// ConnectionsActive returns the number of running connection flows
func (m *Metrics) ConnectionsActive() int64 {
	return m.connectionsActive.Count()
}

// SendTasksActive returns the number of running send tasks
func (m *Metrics) SendTasksActive() int64 {
	return m.sendTasksActive.Count()
}

// SendTasksPeak returns the highest number of send tasks that ever ran at
// the same time
func (m *Metrics) SendTasksPeak() int64 {
	return m.sendTasksPeak.Value()
}

func (m *Metrics) sendTaskStarted() {
	m.sendTasksLock.Lock()
	defer m.sendTasksLock.Unlock()

	m.sendTasksActive.Inc(1)
	if active := m.sendTasksActive.Count(); active > m.sendTasksPeak.Value() {
		m.sendTasksPeak.Update(active)
	}
}

func (m *Metrics) sendTaskFinished() {
	m.sendTasksLock.Lock()
	defer m.sendTasksLock.Unlock()

	m.sendTasksActive.Dec(1)
}
