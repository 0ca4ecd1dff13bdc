package eventcache

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives cache counters from the processing goroutine and from Get.
type Metrics interface {
	IncPut()
	IncGetHit()
	IncGetMiss()
	AddEvicted(n int)
	AddExpired(n int)
	SetSize(n int)
	SetCost(n int)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) IncPut()        {}
func (NoopMetrics) IncGetHit()     {}
func (NoopMetrics) IncGetMiss()    {}
func (NoopMetrics) AddEvicted(int) {}
func (NoopMetrics) AddExpired(int) {}
func (NoopMetrics) SetSize(int)    {}
func (NoopMetrics) SetCost(int)    {}

// SimpleMetrics keeps counters in atomics, handy for tests and the stats endpoint.
type SimpleMetrics struct {
	Puts    atomic.Uint64
	GetHit  atomic.Uint64
	GetMiss atomic.Uint64
	Evicted atomic.Uint64
	Expired atomic.Uint64
	Size    atomic.Int64
	Cost    atomic.Int64
}

func NewSimpleMetrics() *SimpleMetrics { return &SimpleMetrics{} }

func (m *SimpleMetrics) IncPut()     { m.Puts.Add(1) }
func (m *SimpleMetrics) IncGetHit()  { m.GetHit.Add(1) }
func (m *SimpleMetrics) IncGetMiss() { m.GetMiss.Add(1) }

func (m *SimpleMetrics) AddEvicted(n int) {
	if n > 0 {
		m.Evicted.Add(uint64(n))
	}
}

func (m *SimpleMetrics) AddExpired(n int) {
	if n > 0 {
		m.Expired.Add(uint64(n))
	}
}

func (m *SimpleMetrics) SetSize(n int) { m.Size.Store(int64(n)) }
func (m *SimpleMetrics) SetCost(n int) { m.Cost.Store(int64(n)) }

// PromMetrics exports the cache counters to Prometheus.
type PromMetrics struct {
	puts    prometheus.Counter
	getHit  prometheus.Counter
	getMiss prometheus.Counter
	evicted prometheus.Counter
	expired prometheus.Counter
	size    prometheus.Gauge
	cost    prometheus.Gauge
}

// NewPromMetrics creates the collectors under namespace and registers them on
// reg. Registering twice on the same registerer fails.
func NewPromMetrics(namespace string, reg prometheus.Registerer) (*PromMetrics, error) {
	makeC := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}
	makeG := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}

	p := &PromMetrics{
		puts:    makeC("put_total", "Number of items admitted or updated"),
		getHit:  makeC("get_hit_total", "Number of cache hits"),
		getMiss: makeC("get_miss_total", "Number of cache misses"),
		evicted: makeC("evicted_total", "Number of items evicted to stay within max cost"),
		expired: makeC("expired_total", "Number of items dropped after their event time passed"),
		size:    makeG("items", "Current number of items in the eviction index"),
		cost:    makeG("cost", "Current total cost of cached items"),
	}

	for _, c := range []prometheus.Collector{p.puts, p.getHit, p.getMiss, p.evicted, p.expired, p.size, p.cost} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PromMetrics) IncPut()     { p.puts.Inc() }
func (p *PromMetrics) IncGetHit()  { p.getHit.Inc() }
func (p *PromMetrics) IncGetMiss() { p.getMiss.Inc() }

func (p *PromMetrics) AddEvicted(n int) {
	if n > 0 {
		p.evicted.Add(float64(n))
	}
}

func (p *PromMetrics) AddExpired(n int) {
	if n > 0 {
		p.expired.Add(float64(n))
	}
}

func (p *PromMetrics) SetSize(n int) { p.size.Set(float64(n)) }
func (p *PromMetrics) SetCost(n int) { p.cost.Set(float64(n)) }
