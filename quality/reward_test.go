package quality

import (
	"fmt"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeRewardSevenSensorsFullQuality(t *testing.T) {
	readings := map[string]float64{
		"temperature": 22, "humidity": 55, "pressure": 1013,
		"soil_moisture": 40, "soil_temperature": 18, "light": 20000, "uv": 5,
	}
	got := ComputeReward(readings, 1.0, nil)
	want := decimal.RequireFromString("7.14") // 7 × 1.02 × 1.0
	if !got.Equal(want) {
		t.Fatalf("reward: got %s want %s", got, want)
	}
}

func TestComputeRewardZeroSensors(t *testing.T) {
	for _, readings := range []map[string]float64{
		nil,
		{},
		{"temperature": math.NaN()},
	} {
		got := ComputeReward(readings, 1.0, nil)
		if !got.IsZero() {
			t.Fatalf("reward for %v: got %s want 0", readings, got)
		}
	}
}

func TestComputeRewardMonotonicInQuality(t *testing.T) {
	readings := map[string]float64{
		"temperature": 22, "humidity": 55, "soil_moisture": 40,
	}
	prev := ComputeReward(readings, 0, nil)
	for q := 0.05; q <= 1.0; q += 0.05 {
		cur := ComputeReward(readings, q, nil)
		if cur.Cmp(prev) < 0 {
			t.Fatalf("reward decreased: q=%v %s -> %s", q, prev, cur)
		}
		prev = cur
	}
}

func TestComputeRewardCapped(t *testing.T) {
	// 25 sensors at full quality would be 25.50 uncapped.
	readings := make(map[string]float64, 25)
	for i := 0; i < 25; i++ {
		readings[fmt.Sprintf("sensor_%02d", i)] = float64(i)
	}
	got := ComputeReward(readings, 1.0, nil)
	if !got.Equal(MaxRewardPerObservation.Round(2)) {
		t.Fatalf("cap: got %s want %s", got, MaxRewardPerObservation)
	}

	// Bonuses cannot push past the cap either.
	boosted := ComputeReward(readings, 1.0, map[string]float64{"streak": 10.0})
	if boosted.GreaterThan(MaxRewardPerObservation) {
		t.Fatalf("bonus broke the cap: %s", boosted)
	}
}

func TestComputeRewardQualityMultiplierFloor(t *testing.T) {
	readings := map[string]float64{"temperature": 22, "humidity": 55}
	got := ComputeReward(readings, 0.0, nil)
	want := decimal.RequireFromString("1.02") // 2 × 1.02 × 0.5
	if !got.Equal(want) {
		t.Fatalf("floored reward: got %s want %s", got, want)
	}
}

func TestComputeRewardBonusesMultiply(t *testing.T) {
	readings := map[string]float64{"temperature": 22}
	base := ComputeReward(readings, 1.0, nil)
	doubled := ComputeReward(readings, 1.0, map[string]float64{"promo": 2.0})
	if !doubled.Equal(base.Mul(decimal.NewFromInt(2)).Round(2)) {
		t.Fatalf("bonus: got %s want %s", doubled, base.Mul(decimal.NewFromInt(2)))
	}
}

func TestComputeRewardDeterministic(t *testing.T) {
	readings := map[string]float64{
		"temperature": 19.3, "humidity": 71.2, "co2": 415,
	}
	bonuses := map[string]float64{"b": 1.1, "a": 1.2, "c": 0.9}
	first := ComputeReward(readings, 0.835, bonuses)
	for i := 0; i < 100; i++ {
		if got := ComputeReward(readings, 0.835, bonuses); !got.Equal(first) {
			t.Fatalf("iteration %d: got %s want %s", i, got, first)
		}
	}
}

func TestDailyEstimate(t *testing.T) {
	got := DailyEstimate(7, 1.0, 96)
	want := decimal.RequireFromString("685.44") // 7 × 1.02 × 96
	if !got.Equal(want) {
		t.Fatalf("daily estimate: got %s want %s", got, want)
	}
	if !DailyEstimate(0, 1.0, 96).IsZero() {
		t.Fatal("zero sensors should estimate zero")
	}
}
