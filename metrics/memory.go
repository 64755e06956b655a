package metrics

import (
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quartzbi/metasync/types"
	"github.com/quartzbi/metasync/utils"
)

type MemoryConfig struct {
	MaxMetrics int `yaml:"max_metrics" json:"max_metrics"`
}

// MemoryMetrics keeps instruments in process memory. It is the default
// backend for tests and for deployments that scrape nothing.
type MemoryMetrics struct {
	logger     types.Logger
	config     *MemoryConfig
	counters   map[string]*MemoryCounter
	gauges     map[string]*MemoryGauge
	histograms map[string]*MemoryHistogram
	summaries  map[string]*MemorySummary
	mu         sync.RWMutex
	running    int32
}

func NewMemoryMetrics(logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	memConfig := &MemoryConfig{
		MaxMetrics: 10000,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, memConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory metrics config")
		}
	}

	return &MemoryMetrics{
		logger:     logger,
		config:     memConfig,
		counters:   make(map[string]*MemoryCounter),
		gauges:     make(map[string]*MemoryGauge),
		histograms: make(map[string]*MemoryHistogram),
		summaries:  make(map[string]*MemorySummary),
	}, nil
}

func (m *MemoryMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	m.logger.Info("Memory metrics started")
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return types.ErrServerNotRunning
	}

	m.logger.Info("Memory metrics stopped")
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	key := buildMetricKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if counter, exists := m.counters[key]; exists {
		return counter
	}
	if m.full() {
		return &MemoryCounter{}
	}

	counter := &MemoryCounter{name: name, labels: labels}
	m.counters[key] = counter
	return counter
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	key := buildMetricKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gauge, exists := m.gauges[key]; exists {
		return gauge
	}
	if m.full() {
		return &MemoryGauge{}
	}

	gauge := &MemoryGauge{name: name, labels: labels}
	m.gauges[key] = gauge
	return gauge
}

func (m *MemoryMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	key := buildMetricKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if histogram, exists := m.histograms[key]; exists {
		return histogram
	}
	if m.full() {
		return &MemoryHistogram{}
	}

	histogram := &MemoryHistogram{
		name:    name,
		labels:  labels,
		buckets: append([]float64(nil), buckets...),
		counts:  make([]uint64, len(buckets)+1),
	}
	m.histograms[key] = histogram
	return histogram
}

func (m *MemoryMetrics) Summary(name string, objectives map[float64]float64, labels map[string]string) types.Summary {
	key := buildMetricKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if summary, exists := m.summaries[key]; exists {
		return summary
	}
	if m.full() {
		return &MemorySummary{}
	}

	summary := &MemorySummary{name: name, labels: labels, objectives: objectives}
	m.summaries[key] = summary
	return summary
}

func (m *MemoryMetrics) GetMetrics() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := make([]types.MetricValue, 0,
		len(m.counters)+len(m.gauges)+len(m.histograms)+len(m.summaries))

	for _, c := range m.counters {
		metrics = append(metrics, types.MetricValue{
			Name: c.name, Type: "counter", Value: c.Get(), Labels: c.labels,
		})
	}
	for _, g := range m.gauges {
		metrics = append(metrics, types.MetricValue{
			Name: g.name, Type: "gauge", Value: g.Get(), Labels: g.labels,
		})
	}
	for _, h := range m.histograms {
		metrics = append(metrics, types.MetricValue{
			Name: h.name, Type: "histogram", Value: h.GetSum(), Labels: h.labels,
		})
	}
	for _, s := range m.summaries {
		metrics = append(metrics, types.MetricValue{
			Name: s.name, Type: "summary", Value: s.GetSum(), Labels: s.labels,
		})
	}

	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Name < metrics[j].Name })

	return utils.Marshal(metrics)
}

func (m *MemoryMetrics) GetStats() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := types.MetricsStats{
		TotalMetrics:     len(m.counters) + len(m.gauges) + len(m.histograms) + len(m.summaries),
		CounterMetrics:   len(m.counters),
		GaugeMetrics:     len(m.gauges),
		HistogramMetrics: len(m.histograms),
		SummaryMetrics:   len(m.summaries),
		LastUpdate:       time.Now(),
	}

	return utils.Marshal(stats)
}

// full is checked under the write lock before creating a new instrument.
func (m *MemoryMetrics) full() bool {
	total := len(m.counters) + len(m.gauges) + len(m.histograms) + len(m.summaries)
	if total >= m.config.MaxMetrics {
		m.logger.Warn("Memory metrics at capacity, dropping new instrument",
			zap.Int("max_metrics", m.config.MaxMetrics))
		return true
	}
	return false
}

// buildMetricKey folds labels into the key in sorted order so the same
// label set always maps to the same instrument.
func buildMetricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('_')
		b.WriteString(k)
		b.WriteByte('_')
		b.WriteString(labels[k])
	}
	return b.String()
}

type MemoryCounter struct {
	name   string
	labels map[string]string
	value  uint64
}

func (c *MemoryCounter) Inc() {
	c.Add(1)
}

func (c *MemoryCounter) Add(value float64) {
	for {
		old := atomic.LoadUint64(&c.value)
		updated := math.Float64bits(math.Float64frombits(old) + value)
		if atomic.CompareAndSwapUint64(&c.value, old, updated) {
			return
		}
	}
}

func (c *MemoryCounter) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&c.value))
}

type MemoryGauge struct {
	name   string
	labels map[string]string
	value  uint64
}

func (g *MemoryGauge) Set(value float64) {
	atomic.StoreUint64(&g.value, math.Float64bits(value))
}

func (g *MemoryGauge) Inc() { g.Add(1) }

func (g *MemoryGauge) Dec() { g.Add(-1) }

func (g *MemoryGauge) Add(value float64) {
	for {
		old := atomic.LoadUint64(&g.value)
		updated := math.Float64bits(math.Float64frombits(old) + value)
		if atomic.CompareAndSwapUint64(&g.value, old, updated) {
			return
		}
	}
}

func (g *MemoryGauge) Sub(value float64) { g.Add(-value) }

func (g *MemoryGauge) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&g.value))
}

// MemoryHistogram stores the sum in microsecond fixed point so observation
// stays a pair of atomic adds.
type MemoryHistogram struct {
	name    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     uint64
	count   uint64
}

func (h *MemoryHistogram) Observe(value float64) {
	atomic.AddUint64(&h.count, 1)
	atomic.AddUint64(&h.sum, uint64(value*1e6))

	for i, bucket := range h.buckets {
		if value <= bucket {
			atomic.AddUint64(&h.counts[i], 1)
			return
		}
	}
	if len(h.counts) > 0 {
		atomic.AddUint64(&h.counts[len(h.counts)-1], 1)
	}
}

func (h *MemoryHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *MemoryHistogram) GetCount() uint64 {
	return atomic.LoadUint64(&h.count)
}

func (h *MemoryHistogram) GetSum() float64 {
	return float64(atomic.LoadUint64(&h.sum)) / 1e6
}

type MemorySummary struct {
	name       string
	labels     map[string]string
	objectives map[float64]float64
	mu         sync.Mutex
	values     []float64
	sum        float64
	count      uint64
}

func (s *MemorySummary) Observe(value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += value
	s.values = append(s.values, value)
	if len(s.values) > 1000 {
		s.values = s.values[1:]
	}
}

func (s *MemorySummary) ObserveDuration(start time.Time) {
	s.Observe(time.Since(start).Seconds())
}

func (s *MemorySummary) GetCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *MemorySummary) GetSum() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum
}

// Quantiles reports the requested objectives over the retained window.
func (s *MemorySummary) Quantiles() map[float64]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.values) == 0 {
		return nil
	}

	sorted := append([]float64(nil), s.values...)
	sort.Float64s(sorted)

	quantiles := make(map[float64]float64, len(s.objectives))
	for q := range s.objectives {
		idx := int(q * float64(len(sorted)-1))
		quantiles[q] = sorted[idx]
	}
	return quantiles
}
