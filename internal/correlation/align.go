// SPDX-License-Identifier: MIT

package correlation

import (
	"time"

	"github.com/verisit/verisit/internal/domain/stream"
)

// Alignment strategies recorded on results.
const (
	StrategyTimestamp     = "timestamp"
	StrategySlidingWindow = "sliding_window"
)

const (
	// MaxTimestampSkew is the pairing tolerance for timestamp alignment.
	MaxTimestampSkew = 2 * time.Second
	// MinAlignedSamples is the floor below which no correlation is reported.
	MinAlignedSamples = 10
	// MaxWindow caps the sliding-window comparison length.
	MaxWindow = 60
)

// alignTimestamps pairs samples of the two time-sorted series with a
// two-pointer sweep. Each sample is used at most once; a pair is emitted
// when the corrected timestamps are within MaxTimestampSkew.
func alignTimestamps(a, b []stream.Sample) (pairedA, pairedB []float64) {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		d := a[i].Timestamp.Sub(b[j].Timestamp)
		switch {
		case d < -MaxTimestampSkew:
			i++
		case d > MaxTimestampSkew:
			j++
		default:
			pairedA = append(pairedA, float64(a[i].RSSI))
			pairedB = append(pairedB, float64(b[j].RSSI))
			i++
			j++
		}
	}
	return pairedA, pairedB
}

// alignSliding treats both series as unlabeled vectors ordered by time and
// slides the shorter over the longer in both directions, keeping the offset
// with the highest Pearson correlation.
func alignSliding(a, b []stream.Sample) (bestA, bestB []float64) {
	av := rssiValues(a)
	bv := rssiValues(b)

	long, short := av, bv
	if len(short) > len(long) {
		long, short = short, long
	}
	w := min(len(short), MaxWindow)
	if w == 0 {
		return nil, nil
	}

	best := -2.0 // below any valid correlation

	consider := func(x, y []float64) {
		rho, zero := pearson(x, y)
		if zero {
			return
		}
		if rho > best {
			best = rho
			bestA = x
			bestB = y
		}
	}

	// Slide the short window over the long series...
	for off := 0; off+w <= len(long); off++ {
		consider(long[off:off+w], short[:w])
	}
	// ...and symmetrically the long prefix over the short series.
	for off := 0; off+w <= len(short); off++ {
		consider(long[:w], short[off:off+w])
	}

	if bestA == nil {
		// All windows had zero variance; fall back to the head windows so
		// the caller still sees the aligned length.
		bestA = long[:w]
		bestB = short[:w]
	}
	return bestA, bestB
}

func rssiValues(samples []stream.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s.RSSI)
	}
	return out
}
