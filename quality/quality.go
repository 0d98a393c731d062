// Package quality converts raw sensor readings into a bounded quality score
// and a deterministic token reward.
//
// Scoring is pure computation: no I/O, no wall clock, no state. The same
// readings always produce the same score, which is what lets an auditor
// re-derive a recorded reward from stored readings and get the same value.
package quality

import (
	"math"
	"sort"
)

// sensorRange is the physically plausible window for one sensor kind.
type sensorRange struct {
	Min  float64
	Max  float64
	Unit string
}

// Known sensor kinds with their plausible ranges.
var sensorRanges = map[string]sensorRange{
	"temperature":      {-50.0, 60.0, "°C"},
	"humidity":         {0.0, 100.0, "%"},
	"pressure":         {800.0, 1200.0, "hPa"},
	"soil_moisture":    {0.0, 100.0, "%"},
	"soil_temperature": {-20.0, 50.0, "°C"},
	"light":            {0.0, 150000.0, "lux"},
	"uv":               {0.0, 15.0, "UV index"},
	"pm25":             {0.0, 500.0, "µg/m³"},
	"pm10":             {0.0, 500.0, "µg/m³"},
	"co2":              {350.0, 5000.0, "ppm"},
}

// Importance weights for the coverage sub-score. Soil moisture is weighted
// highest; it is the reading the stewardship programs care most about.
var sensorWeights = map[string]float64{
	"temperature":      1.2,
	"humidity":         1.1,
	"pressure":         1.0,
	"soil_moisture":    1.3,
	"soil_temperature": 1.1,
	"light":            1.0,
	"uv":               0.9,
	"pm25":             1.0,
	"pm10":             0.9,
	"co2":              1.1,
}

// Maximum plausible change per reading interval, per sensor. Larger jumps
// are treated as probable sensor faults by the temporal sub-score.
var maxChanges = map[string]float64{
	"temperature":      5.0,
	"humidity":         20.0,
	"pressure":         10.0,
	"soil_moisture":    10.0,
	"soil_temperature": 3.0,
	"light":            50000.0,
	"uv":               3.0,
}

// Sub-score weights. When previous is nil the temporal weight is dropped and
// the remaining weights renormalize to sum to 1.
const (
	weightCoverage     = 0.30
	weightPlausibility = 0.25
	weightCompleteness = 0.20
	weightConsistency  = 0.15
	weightTemporal     = 0.10
)

// KnownSensors returns the sensor kinds the scorer understands, sorted.
func KnownSensors() []string {
	out := make([]string, 0, len(sensorRanges))
	for name := range sensorRanges {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func isNumeric(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Score computes the quality of a reading set in [0.0, 1.0].
//
// previous may be nil; when supplied, the temporal sub-score joins the
// weighted average. Missing or non-numeric sensors reduce sub-scores, they
// are never an error.
func Score(current map[string]float64, previous map[string]float64) float64 {
	scores := []float64{
		coverageScore(current),
		plausibilityScore(current),
		completenessScore(current),
		consistencyScore(current),
	}
	weights := []float64{
		weightCoverage,
		weightPlausibility,
		weightCompleteness,
		weightConsistency,
	}
	if previous != nil {
		scores = append(scores, temporalScore(current, previous))
		weights = append(weights, weightTemporal)
	}

	var sum, total float64
	for i := range scores {
		sum += scores[i] * weights[i]
		total += weights[i]
	}
	return math.Round(sum/total*1000) / 1000
}

// coverageScore rewards having many, important sensors reporting.
func coverageScore(readings map[string]float64) float64 {
	var got, max float64
	for name := range sensorRanges {
		w := sensorWeights[name]
		max += w
		if v, ok := readings[name]; ok && isNumeric(v) {
			got += w
		}
	}
	if max == 0 {
		return 0
	}
	return got / max
}

// plausibilityScore penalizes values outside each sensor's physical range,
// linearly in how far outside they fall.
func plausibilityScore(readings map[string]float64) float64 {
	// Deterministic iteration is unnecessary here (the mean is order
	// independent) but the per-sensor scores must be.
	var sum float64
	var n int
	for name, v := range readings {
		if !isNumeric(v) {
			continue
		}
		n++
		r, ok := sensorRanges[name]
		if !ok {
			// Unknown sensor kind: nothing to judge it against.
			sum += 1.0
			continue
		}
		if v >= r.Min && v <= r.Max {
			sum += 1.0
			continue
		}
		var deviation float64
		if v < r.Min {
			deviation = (r.Min - v) / (r.Max - r.Min)
		} else {
			deviation = (v - r.Max) / (r.Max - r.Min)
		}
		penalty := math.Min(deviation*2, 1.0)
		sum += math.Max(0, 1.0-penalty)
	}
	if n == 0 {
		return 0.5
	}
	return sum / float64(n)
}

// completenessScore counts two half-point checks per known sensor kind:
// the reading exists, and it is numeric.
func completenessScore(readings map[string]float64) float64 {
	var passed float64
	for name := range sensorRanges {
		v, ok := readings[name]
		if !ok {
			continue
		}
		passed += 0.5
		if isNumeric(v) {
			passed += 0.5
		}
	}
	return passed / float64(len(sensorRanges))
}

// consistencyScore deducts fixed penalties for physically implausible
// co-occurring values.
func consistencyScore(readings map[string]float64) float64 {
	score := 1.0

	temp, hasTemp := readings["temperature"]
	hum, hasHum := readings["humidity"]
	if hasTemp && hasHum && isNumeric(temp) && isNumeric(hum) {
		if temp > 35 && hum > 90 {
			score -= 0.1
		}
		if temp < 5 && hum < 20 {
			score -= 0.1
		}
	}

	moisture, hasMoist := readings["soil_moisture"]
	soilTemp, hasSoilTemp := readings["soil_temperature"]
	if hasMoist && hasSoilTemp && isNumeric(moisture) && isNumeric(soilTemp) {
		if soilTemp < 0 && moisture > 80 {
			score -= 0.1
		}
	}

	return math.Max(0, score)
}

// temporalScore penalizes changes since the previous reading that exceed
// each sensor's maximum plausible change.
func temporalScore(current, previous map[string]float64) float64 {
	score := 1.0
	for name, maxChange := range maxChanges {
		cur, okCur := current[name]
		prev, okPrev := previous[name]
		if !okCur || !okPrev || !isNumeric(cur) || !isNumeric(prev) {
			continue
		}
		change := math.Abs(cur - prev)
		if change <= maxChange {
			continue
		}
		excess := (change - maxChange) / maxChange
		score -= math.Min(excess*0.2, 0.3)
	}
	return math.Max(0, score)
}
