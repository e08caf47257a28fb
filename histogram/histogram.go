// Package histogram implements a bounded-memory histogram of uint64
// observations with robust, quantile-based statistics.
//
// Observations land in variable-width buckets; when the bucket table
// fills, adjacent buckets merge toward a uniform population
// (compaction). Statistics are computed from ranked walks over the
// compacted table: trimean for location, interquartile range for
// dispersion, an IQR-derived standard deviation estimate, a 0-99 dB
// signal-to-noise figure, and six-sigma outlier detection.
package histogram

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gioppler/gioppler/contract"
)

const (
	// maxBuckets bounds the bucket table; compaction keeps the
	// table strictly below this after any merge pass.
	maxBuckets = 256

	// maxBucketCount is the 24-bit per-bucket population limit.
	maxBucketCount = 1<<24 - 1

	// iqrUnbiased converts an interquartile range to a standard
	// deviation estimate for normally distributed data:
	// 2*sqrt(2)*erfc(0.5).
	iqrUnbiased = 1.35623115191269

	// sixSigmaTail is the one-sided probability mass beyond six
	// standard deviations of a normal distribution.
	sixSigmaTail = (1 - 0.999999998026825) / 2
)

var sparklineSteps = []rune("▁▂▃▄▅▆▇█")

// bucket covers [min, min+span] with count observations. Ranks within
// a bucket interpolate linearly across the span.
type bucket struct {
	min   uint64
	span  uint64
	count uint64
}

func (b bucket) max() uint64 { return b.min + b.span }

func (b bucket) overlaps(o bucket) bool {
	return b.min <= o.max() && b.max() >= o.min
}

// rank returns the interpolated observation for rank r in 1..count.
func (b bucket) rank(r uint64) uint64 {
	if b.count == 1 {
		return b.min
	}
	return b.min + (r-1)*b.span/(b.count-1)
}

func (b *bucket) merge(o bucket) {
	lo := b.min
	if o.min < lo {
		lo = o.min
	}
	hi := b.max()
	if o.max() > hi {
		hi = o.max()
	}
	b.min = lo
	b.span = hi - lo
	b.count += o.count
	contract.Confirm(b.count <= maxBucketCount, "histogram bucket population overflow")
}

// Histogram accumulates observations. The zero value is ready to use.
// Not safe for concurrent use.
type Histogram struct {
	observations uint64
	compacted    bool
	buckets      []bucket
}

// New constructs an empty histogram.
func New() *Histogram {
	return &Histogram{compacted: true, buckets: make([]bucket, 0, maxBuckets)}
}

// Add records one observation.
func (h *Histogram) Add(observation uint64) {
	h.buckets = append(h.buckets, bucket{min: observation, count: 1})
	h.observations++
	h.compacted = false

	if len(h.buckets) >= maxBuckets {
		h.compact()
	}
}

// Count reports the number of observations recorded.
func (h *Histogram) Count() uint64 { return h.observations }

// ByRank returns the observation at the given global rank in
// 1..Count, interpolating within buckets. Out-of-range ranks clamp;
// an empty histogram yields 0.
func (h *Histogram) ByRank(rank uint64) uint64 {
	if h.observations == 0 {
		return 0
	}
	h.compact()

	if rank < 1 {
		rank = 1
	}
	if rank > h.observations {
		rank = h.observations
	}

	for _, b := range h.buckets {
		if rank <= b.count {
			return b.rank(rank)
		}
		rank -= b.count
	}
	contract.Confirm(false, "rank walk exhausted buckets")
	return 0
}

// Trimean returns (Q1 + 2*Q2 + Q3)/4, a robust location estimate.
func (h *Histogram) Trimean() uint64 {
	h.compact()
	switch {
	case h.observations == 0:
		return 0
	case h.observations <= 2:
		return h.ByRank(1)
	case h.observations == 3:
		return h.ByRank(2)
	}

	q1 := roundDiv(h.observations, 4)
	q2 := roundDiv(h.observations, 2)
	q3 := q1 + q2
	return roundDiv(h.ByRank(q1)+2*h.ByRank(q2)+h.ByRank(q3), 4)
}

// IQR returns the interquartile range, a robust dispersion estimate.
func (h *Histogram) IQR() uint64 {
	h.compact()
	switch {
	case h.observations <= 1:
		return 0
	case h.observations == 2:
		return h.ByRank(2) - h.ByRank(1)
	case h.observations == 3:
		return h.ByRank(3) - h.ByRank(1)
	}

	q1 := roundDiv(h.observations, 4)
	q3 := q1 + roundDiv(h.observations, 2)
	return h.ByRank(q3) - h.ByRank(q1)
}

// StdDev estimates the standard deviation from the IQR, assuming
// roughly normal data. Surprisingly accurate, and far more robust
// than the sample moment.
func (h *Histogram) StdDev() float64 {
	return float64(h.IQR()) / iqrUnbiased
}

// SNR reports a signal-to-noise ratio in decibels, clamped to 0..99.
// 0 means the observations are mostly noise; 99 means very stable.
func (h *Histogram) SNR() int {
	trimean := float64(h.Trimean())
	if trimean == 0 {
		trimean = 1
	}
	sd := h.StdDev()
	if sd < 1 {
		sd = 1
	}
	snr := 10 * math.Log10((trimean*trimean)/(sd*sd))
	if snr < 0 {
		snr = 0
	} else if snr > 99 {
		snr = 99
	}
	return int(math.Round(snr))
}

// Outliers reports whether observations exist below and above six
// standard deviations from the trimean, in excess of the count a
// normal distribution would predict.
func (h *Histogram) Outliers() (low, high bool) {
	if h.observations == 0 {
		return false, false
	}
	h.compact()

	expected := uint64(math.Round(float64(h.observations) * sixSigmaTail))
	trimean := float64(h.Trimean())
	sd := h.StdDev()

	if lo := trimean - 6*sd; lo >= float64(h.min()) {
		if lowValues := h.countBelow(uint64(math.Round(lo))); lowValues > expected {
			low = true
		}
	}
	if hi := trimean + 6*sd; hi <= float64(h.max()) {
		if highValues := h.countAbove(uint64(math.Round(hi))); highValues > expected {
			high = true
		}
	}
	return low, high
}

// Sparkline renders a width-character block-element chart of the
// bucket populations, normalized to the tallest column.
func (h *Histogram) Sparkline(width int) string {
	if h.observations == 0 || width <= 0 {
		return ""
	}
	h.compact()

	columns := make([]uint64, width)
	minValue := h.min()
	rangeValue := h.max() - minValue

	if rangeValue == 0 || width == 1 {
		columns[0] = h.observations
	} else {
		columnWidth := float64(rangeValue) / float64(width-1)
		for _, b := range h.buckets {
			for r := uint64(1); r <= b.count; r++ {
				idx := int(float64(b.rank(r)-minValue) / columnWidth)
				if idx >= width {
					idx = width - 1
				}
				columns[idx]++
			}
		}
	}

	var maxHeight uint64
	for _, c := range columns {
		if c > maxHeight {
			maxHeight = c
		}
	}

	out := strings.Builder{}
	steps := uint64(len(sparklineSteps) - 1)
	for _, c := range columns {
		out.WriteRune(sparklineSteps[roundDiv(c*steps, maxHeight)])
	}
	return out.String()
}

// Statistics bundles the robust statistics for reporting.
type Statistics struct {
	Min          uint64
	Max          uint64
	Count        uint64
	Trimean      uint64
	StdDev       float64
	SNR          int
	LowOutliers  bool
	HighOutliers bool
	Sparkline    string
}

// Stats computes the full statistics bundle.
func (h *Histogram) Stats() Statistics {
	low, high := h.Outliers()
	return Statistics{
		Min:          h.min(),
		Max:          h.max(),
		Count:        h.Count(),
		Trimean:      h.Trimean(),
		StdDev:       h.StdDev(),
		SNR:          h.SNR(),
		LowOutliers:  low,
		HighOutliers: high,
		Sparkline:    h.Sparkline(9),
	}
}

func (s Statistics) String() string {
	return fmt.Sprintf("{min:%d,max:%d,count:%d,low_outliers:%t,high_outliers:%t,trimean:%d,std_dev:%g,snr:%d,sparkline:%s}",
		s.Min, s.Max, s.Count, s.LowOutliers, s.HighOutliers, s.Trimean, s.StdDev, s.SNR, s.Sparkline)
}

func (h *Histogram) min() uint64 {
	h.compact()
	if len(h.buckets) == 0 {
		return 0
	}
	return h.buckets[0].rank(1)
}

func (h *Histogram) max() uint64 {
	h.compact()
	if len(h.buckets) == 0 {
		return 0
	}
	last := h.buckets[len(h.buckets)-1]
	return last.rank(last.count)
}

// countBelow returns the number of observations <= threshold using
// the same rank interpolation as ByRank.
func (h *Histogram) countBelow(threshold uint64) uint64 {
	var n uint64
	for _, b := range h.buckets {
		if b.max() <= threshold {
			n += b.count
			continue
		}
		for r := uint64(1); r <= b.count; r++ {
			if b.rank(r) > threshold {
				break
			}
			n++
		}
		break
	}
	return n
}

// countAbove returns the number of observations >= threshold.
func (h *Histogram) countAbove(threshold uint64) uint64 {
	var n uint64
	for i := len(h.buckets) - 1; i >= 0; i-- {
		b := h.buckets[i]
		if b.min >= threshold {
			n += b.count
			continue
		}
		for r := b.count; r >= 1; r-- {
			if b.rank(r) < threshold {
				break
			}
			n++
		}
		break
	}
	return n
}

// compact sorts the buckets and merges neighbors until populations
// level out near count/maxBuckets, leaving room to add more buckets.
// Compaction is a fixed point: a second immediate call is a no-op.
func (h *Histogram) compact() {
	if h.compacted {
		return
	}

	sort.Slice(h.buckets, func(i, j int) bool {
		return h.buckets[i].min < h.buckets[j].min
	})

	targetSize := 1 + roundDiv(h.observations, maxBuckets)
	merged := h.buckets[:0]
	for _, b := range h.buckets {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if last.count < targetSize || b.overlaps(*last) {
				last.merge(b)
				continue
			}
		}
		merged = append(merged, b)
	}
	h.buckets = merged
	h.compacted = true

	contract.Confirm(len(h.buckets) < maxBuckets, "histogram compaction left a full table")
}

func roundDiv(dividend, divisor uint64) uint64 {
	return (dividend + divisor/2) / divisor
}
