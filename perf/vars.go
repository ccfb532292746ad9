// Package perf exposes process-wide counters and histograms for the
// packet pipeline, published via expvar and the metric package's own
// /debug/metrics handler, mirroring the teacher's metrics layer.
package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"

	"github.com/quillnet/vl1/dispatch"
)

var (
	DispatchLatency = metric.NewHistogram("1m1s")
	DecryptLatency  = metric.NewHistogram("1m1s")

	SentPacketsPerSecond = metric.NewCounter("10s1s")
	RecvPacketsPerSecond = metric.NewCounter("10s1s")
	SentBytesPerSecond   = metric.NewCounter("10s1s")
	RecvBytesPerSecond   = metric.NewCounter("10s1s")
	RelayedPerSecond     = metric.NewCounter("10s1s")

	DroppedPerSecond = metric.NewCounter("10s1s")
)

// rateCounter is the subset of metric.NewCounter's return type this
// package relies on: bumping a value and publishing it via expvar.
type rateCounter interface {
	Add(float64)
	String() string
}

// dropCounters holds one rate counter per DropReason, indexed by the
// reason's integer value, so a single Event callback switch can bump
// the right one without a map lookup on the hot path.
var dropCounters [16]rateCounter

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))

	expvar.Publish("vl1:DispatchLatency (µs)", DispatchLatency)
	expvar.Publish("vl1:DecryptLatency (µs)", DecryptLatency)
	expvar.Publish("vl1:SentPackets/s", SentPacketsPerSecond)
	expvar.Publish("vl1:RecvPackets/s", RecvPacketsPerSecond)
	expvar.Publish("vl1:SentBytes/s", SentBytesPerSecond)
	expvar.Publish("vl1:RecvBytes/s", RecvBytesPerSecond)
	expvar.Publish("vl1:Relayed/s", RelayedPerSecond)
	expvar.Publish("vl1:Dropped/s", DroppedPerSecond)

	for reason := dispatch.DropNone; reason <= dispatch.DropFragmentRejected; reason++ {
		c := metric.NewCounter("10s1s")
		dropCounters[reason] = c
		expvar.Publish("vl1:Dropped["+reason.String()+"]/s", c)
	}
}

// RecordDrop bumps both the aggregate drop counter and the per-reason
// counter. Called from the host's Callbacks.Event implementation on
// EventPacketDropped.
func RecordDrop(reason dispatch.DropReason) {
	DroppedPerSecond.Add(1)
	if int(reason) < len(dropCounters) {
		if c := dropCounters[reason]; c != nil {
			c.Add(1)
		}
	}
}
