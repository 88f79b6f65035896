package core

import "math"

// Default per-battery impact factors (kg of soil, litres of water)
const (
	DefaultSoilPerBattery  = 0.02
	DefaultWaterPerBattery = 0.15
)

// ImpactFactors converts a battery count into environmental impact figures
type ImpactFactors struct {
	SoilPerItem  float64 `json:"soil_per_item" yaml:"soil_per_item" toml:"soil_per_item"`
	WaterPerItem float64 `json:"water_per_item" yaml:"water_per_item" toml:"water_per_item"`
}

// DefaultImpactFactors returns the factors used by the public dashboard
func DefaultImpactFactors() ImpactFactors {
	return ImpactFactors{
		SoilPerItem:  DefaultSoilPerBattery,
		WaterPerItem: DefaultWaterPerBattery,
	}
}

// Derive computes the stats for a total count.
// Results are rounded to 6 decimals so 150*0.02 reports 3 rather than 2.9999999999999996.
func (f ImpactFactors) Derive(total int64) Stats {
	return Stats{
		Total: total,
		Soil:  round6(float64(total) * f.SoilPerItem),
		Water: round6(float64(total) * f.WaterPerItem),
	}
}

// Advance returns s with n more items accounted for
func (f ImpactFactors) Advance(s Stats, n int64) Stats {
	return Stats{
		Total: s.Total + n,
		Soil:  round6(s.Soil + float64(n)*f.SoilPerItem),
		Water: round6(s.Water + float64(n)*f.WaterPerItem),
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
