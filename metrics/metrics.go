// Package metrics is the teacher's own tiny counter/gauge registry
// (referenced by common/dbutils for the preimage hit/total counters).
// It is kept intentionally small: this module's Non-goals exclude a
// metrics UX, but the ambient stack still wires counters the way the
// teacher does, for the structured event stream of §2.
package metrics

import "sync/atomic"

// Counter is a monotonically increasing 64-bit counter.
type Counter struct {
	name string
	v    int64
}

func (c *Counter) Inc(delta int64) { atomic.AddInt64(&c.v, delta) }
func (c *Counter) Count() int64    { return atomic.LoadInt64(&c.v) }
func (c *Counter) Name() string    { return c.name }

type registry struct {
	counters map[string]*Counter
}

var reg = &registry{counters: make(map[string]*Counter)}

// NewRegisteredCounter creates (or returns the existing) named counter.
// tags is accepted for API parity with the teacher's call sites and is
// not used.
func NewRegisteredCounter(name string, tags map[string]string) *Counter {
	if c, ok := reg.counters[name]; ok {
		return c
	}
	c := &Counter{name: name}
	reg.counters[name] = c
	return c
}

// Get returns a previously registered counter, or nil.
func Get(name string) *Counter { return reg.counters[name] }
