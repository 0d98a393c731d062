package quality

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Reward parameters. These are protocol constants, not tuning knobs: the
// recorded amount of every Exchange depends on them, so changing any of
// them changes what an audit re-derives.
var (
	// BaseRatePerSensor is the token value of one reporting sensor.
	BaseRatePerSensor = decimal.RequireFromString("1.02")

	// MinQualityMultiplier is the multiplier at quality 0; quality 1 maps
	// to 1.0 with linear interpolation between.
	MinQualityMultiplier = decimal.RequireFromString("0.5")

	// MaxRewardPerObservation caps a single observation's reward.
	MaxRewardPerObservation = decimal.RequireFromString("20.0")
)

// rewardPlaces is the fixed rounding precision for final amounts.
const rewardPlaces = 2

// ComputeReward converts readings and a quality score into a token amount.
//
// reward = BaseRatePerSensor × numericSensorCount × qualityMultiplier,
// then each bonus multiplies the running total, then the result is capped
// at MaxRewardPerObservation and rounded half-up to two decimal places.
//
// The function is pure: identical inputs always produce the identical
// amount to the rounding digit. Zero numeric readings yield a zero reward.
func ComputeReward(readings map[string]float64, qualityScore float64, bonuses map[string]float64) decimal.Decimal {
	count := CountNumericSensors(readings)
	if count == 0 {
		return decimal.Zero.Round(rewardPlaces)
	}

	mult := qualityMultiplier(qualityScore)
	reward := BaseRatePerSensor.Mul(decimal.NewFromInt(int64(count))).Mul(mult)

	// Multiplication is commutative, but apply bonuses in sorted key order
	// anyway so intermediate logging and debugging stay reproducible.
	names := make([]string, 0, len(bonuses))
	for name := range bonuses {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		reward = reward.Mul(decimal.NewFromFloat(bonuses[name]))
	}

	if reward.GreaterThan(MaxRewardPerObservation) {
		reward = MaxRewardPerObservation
	}
	return reward.Round(rewardPlaces)
}

// DailyEstimate projects a day of earnings for a device.
//
// This is an estimate for onboarding UIs, not a recorded amount; it uses the
// same formula as ComputeReward without the per-observation cap.
func DailyEstimate(sensorCount int, averageQuality float64, observationsPerDay int) decimal.Decimal {
	if sensorCount <= 0 || observationsPerDay <= 0 {
		return decimal.Zero.Round(rewardPlaces)
	}
	per := BaseRatePerSensor.
		Mul(decimal.NewFromInt(int64(sensorCount))).
		Mul(qualityMultiplier(averageQuality))
	return per.Mul(decimal.NewFromInt(int64(observationsPerDay))).Round(rewardPlaces)
}

// CountNumericSensors counts present, numeric readings.
func CountNumericSensors(readings map[string]float64) int {
	n := 0
	for _, v := range readings {
		if isNumeric(v) {
			n++
		}
	}
	return n
}

// qualityMultiplier maps quality 0 -> MinQualityMultiplier and 1 -> 1.0,
// linearly, quantized to three places.
func qualityMultiplier(qualityScore float64) decimal.Decimal {
	q := decimal.NewFromFloat(clamp01(qualityScore))
	spread := decimal.New(1, 0).Sub(MinQualityMultiplier)
	return MinQualityMultiplier.Add(q.Mul(spread)).Round(3)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
