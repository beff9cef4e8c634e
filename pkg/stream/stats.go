package stream

import (
	"sync/atomic"
)

// Stats is a snapshot of an adapter's counters.
type Stats struct {
	// Rows is the number of rows ingested.
	Rows int64
	// Objects is the number of root objects finalized.
	Objects int64
	// Delivered is the number of objects accepted by the consumer.
	Delivered int64
	// Pauses counts the times the consumer refused an object.
	Pauses int64
	// MaxPending is the longest the queue has been.
	MaxPending int64
}

// Pending returns the objects finalized but not yet delivered.
func (s Stats) Pending() int64 { return s.Objects - s.Delivered }

// statsCollector is safe to read while the adapter is being driven.
type statsCollector struct {
	rows       atomic.Int64
	objects    atomic.Int64
	delivered  atomic.Int64
	pauses     atomic.Int64
	maxPending atomic.Int64
}

func (c *statsCollector) recordRow()       { c.rows.Add(1) }
func (c *statsCollector) recordDelivered() { c.delivered.Add(1) }
func (c *statsCollector) recordPause()     { c.pauses.Add(1) }

func (c *statsCollector) recordObject(pending int) {
	c.objects.Add(1)
	for {
		cur := c.maxPending.Load()
		if int64(pending) <= cur || c.maxPending.CompareAndSwap(cur, int64(pending)) {
			return
		}
	}
}

func (c *statsCollector) snapshot() Stats {
	return Stats{
		Rows:       c.rows.Load(),
		Objects:    c.objects.Load(),
		Delivered:  c.delivered.Load(),
		Pauses:     c.pauses.Load(),
		MaxPending: c.maxPending.Load(),
	}
}
