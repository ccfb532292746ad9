package peer

import (
	"math"
	"slices"
	"time"
)

// minimumConfidenceWindow is how many samples must accumulate before
// the percentile-based range is trusted over a flat default.
const minimumConfidenceWindow = 4

// windowSamples bounds how many recent samples are retained.
const windowSamples = 32

// outlierFraction places the low/high band edges this fraction in from
// each end of the sorted sample window, the teacher's
// OutlierPercentage constant.
const outlierFraction = 0.1

// latencyEstimator smooths round-trip samples with an EWMA, then
// stabilizes the reported value against a sorted-window median so a
// single noisy sample doesn't whipsaw path ranking — the same
// two-stage approach as the teacher's DynamicEndpoint.
type latencyEstimator struct {
	history    []time.Duration
	sorted     []time.Duration
	dirty      bool
	prevMedian time.Duration
	expRTT     float64
}

func newLatencyEstimator() *latencyEstimator {
	return &latencyEstimator{expRTT: math.Inf(1)}
}

func (u *latencyEstimator) update(rtt time.Duration) {
	if rtt <= 0 {
		rtt = 100 * time.Microsecond
	}
	const alpha = 0.0836
	f := float64(rtt)
	if math.IsInf(u.expRTT, 1) {
		u.expRTT = f
	} else {
		u.expRTT = alpha*f + (1-alpha)*u.expRTT
	}
	u.history = append(u.history, u.filtered())
	if len(u.history) > windowSamples {
		u.history = u.history[1:]
	}
	u.dirty = true
}

func (u *latencyEstimator) filtered() time.Duration {
	return time.Duration(int64(u.expRTT))
}

func (u *latencyEstimator) calcRange() (low, median, high time.Duration) {
	if len(u.history) < minimumConfidenceWindow {
		return 10 * time.Second, 10 * time.Second, 10 * time.Second
	}
	if u.dirty {
		u.sorted = slices.Clone(u.history)
		slices.Sort(u.sorted)
		u.dirty = false
	}
	n := len(u.sorted)
	low = u.sorted[int(float64(n)*outlierFraction)]
	high = u.sorted[int(float64(n)*(1-outlierFraction))]
	median = u.sorted[n/2]
	return
}

// stabilized returns the smoothed latency, only moving the reported
// value to the window's median when the previously reported value
// falls outside the current [low, high] band of the smoothed samples.
func (u *latencyEstimator) stabilized() time.Duration {
	low, median, high := u.calcRange()
	if low > u.prevMedian || high < u.prevMedian {
		u.prevMedian = median
	}
	return u.prevMedian
}
