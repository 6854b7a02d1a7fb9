// SPDX-License-Identifier: MIT

package correlation

import (
	"math"

	"github.com/verisit/verisit/internal/domain/anomaly"
	"github.com/verisit/verisit/internal/domain/stream"
)

// Detection thresholds. The stationary thresholds are the permissive
// variants; the tighter alternatives (σ < 3, μΔ ≤ 5) remain available as
// VeryStillSigma for the one_very_still clause.
const (
	HighCorrelation     = 0.8
	ModerateCorrelation = 0.6
	CriticalCorrelation = 0.95

	StationarySigma   = 8.0
	VeryStillSigma    = 3.0
	SameLocationDelta = 12.0
	DistantDelta      = 15.0
)

// Reasons attached to pair results.
const (
	ReasonInsufficientData   = "insufficient_data"
	ReasonHighCorrelation    = "high_correlation"
	ReasonStationaryProxy    = "stationary_proxy"
	ReasonModerateSameLoc    = "moderate_correlation_same_location"
	ReasonHighButDistant     = "high correlation but distant"
)

// Result is the outcome of analyzing one pair of streams.
type Result struct {
	StudentID1 string `json:"studentId1"`
	StudentID2 string `json:"studentId2"`

	Correlation  *float64 `json:"correlation"` // nil when insufficient data
	AlignedLen   int      `json:"alignedLen"`
	Strategy     string   `json:"strategy,omitempty"`
	ZeroVariance bool     `json:"zeroVariance,omitempty"`

	Mean1     float64 `json:"mean1"`
	Mean2     float64 `json:"mean2"`
	StdDev1   float64 `json:"stdDev1"`
	StdDev2   float64 `json:"stdDev2"`
	MeanDelta float64 `json:"meanDelta"`

	Suspicious bool             `json:"suspicious"`
	Reason     string           `json:"reason,omitempty"`
	Severity   anomaly.Severity `json:"severity,omitempty"`
}

// AnalyzePair aligns two streams and classifies the pair. The inputs need
// not be sorted; samples are re-sorted by corrected timestamp first.
func AnalyzePair(a, b *stream.Stream) Result {
	res := Result{StudentID1: a.StudentID, StudentID2: b.StudentID}

	sa := a.SortedSamples()
	sb := b.SortedSamples()

	pa, pb := alignTimestamps(sa, sb)
	res.Strategy = StrategyTimestamp
	if len(pa) < MinAlignedSamples {
		pa, pb = alignSliding(sa, sb)
		res.Strategy = StrategySlidingWindow
	}
	res.AlignedLen = len(pa)

	if len(pa) < MinAlignedSamples {
		res.Strategy = ""
		res.Reason = ReasonInsufficientData
		return res
	}

	rho, zeroVar := pearson(pa, pb)
	res.Correlation = &rho
	res.ZeroVariance = zeroVar
	res.Mean1 = mean(pa)
	res.Mean2 = mean(pb)
	res.StdDev1 = stdDev(pa)
	res.StdDev2 = stdDev(pb)
	res.MeanDelta = math.Abs(res.Mean1 - res.Mean2)

	classify(&res)
	return res
}

// classify applies the verdict rules in priority order.
func classify(res *Result) {
	rho := math.Abs(*res.Correlation)

	stationaryBoth := res.StdDev1 < StationarySigma && res.StdDev2 < StationarySigma
	sameLocation := res.MeanDelta <= SameLocationDelta
	oneVeryStill := res.StdDev1 < VeryStillSigma || res.StdDev2 < VeryStillSigma
	suspiciousStationary := (stationaryBoth && sameLocation) ||
		(oneVeryStill && stationaryBoth && sameLocation)

	switch {
	case rho >= HighCorrelation:
		if res.MeanDelta > DistantDelta {
			// Flat high correlation at very different levels: two devices
			// near different anchors, not one carrier.
			res.Reason = ReasonHighButDistant
			return
		}
		res.Suspicious = true
		res.Reason = ReasonHighCorrelation
	case suspiciousStationary:
		res.Suspicious = true
		res.Reason = ReasonStationaryProxy
	case rho >= ModerateCorrelation && sameLocation:
		res.Suspicious = true
		res.Reason = ReasonModerateSameLoc
	default:
		return
	}

	res.Severity = anomaly.SeverityWarning
	if rho >= CriticalCorrelation {
		res.Severity = anomaly.SeverityCritical
	}
}
