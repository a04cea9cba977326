package argo

// Bounds is the physically-plausible range for one variable.
// Values outside the range are flagged, never altered or dropped.
type Bounds struct {
	Min float64
	Max float64
}

// OutlierBounds defines the plausibility ranges used by Clean, keyed by the
// variable names reported in CleaningStats.
var OutlierBounds = map[string]Bounds{
	"temperature":      {Min: -2.5, Max: 40},    // °C
	"salinity":         {Min: 0, Max: 42},       // PSU
	"pressure":         {Min: 0, Max: 12000},    // dbar
	"dissolved_oxygen": {Min: 0, Max: 600},      // µmol/kg
	"chlorophyll":      {Min: 0, Max: 100},      // mg/m³
	"nitrate":          {Min: 0, Max: 50},       // µmol/kg
	"ph":               {Min: 7.0, Max: 8.5},
}

// CleaningStats summarises one Clean pass.
type CleaningStats struct {
	TotalMeasurements int
	FlaggedOutliers   int
	FlagsByVariable   map[string]int
}

// Clean flags physically-implausible measurements across all profiles in the
// result. A measurement becomes an outlier when any of its variables falls
// outside the bounds table; every offending variable is counted separately.
func Clean(result *ParseResult) CleaningStats {
	stats := CleaningStats{
		FlagsByVariable: make(map[string]int),
	}

	for pi := range result.Profiles {
		profile := &result.Profiles[pi]
		for mi := range profile.Measurements {
			m := &profile.Measurements[mi]
			stats.TotalMeasurements++

			flagged := false
			flagged = checkBounds(&stats, "pressure", m.Pressure) || flagged
			flagged = checkBounds(&stats, "temperature", m.Temperature) || flagged
			flagged = checkBounds(&stats, "salinity", m.Salinity) || flagged
			flagged = checkBounds(&stats, "dissolved_oxygen", m.DissolvedOxygen) || flagged
			flagged = checkBounds(&stats, "chlorophyll", m.Chlorophyll) || flagged
			flagged = checkBounds(&stats, "nitrate", m.Nitrate) || flagged
			flagged = checkBounds(&stats, "ph", m.PH) || flagged

			if flagged {
				m.IsOutlier = true
				stats.FlaggedOutliers++
			}
		}
	}

	return stats
}

func checkBounds(stats *CleaningStats, variable string, value *float64) bool {
	if value == nil {
		return false
	}

	bounds := OutlierBounds[variable]
	if *value < bounds.Min || *value > bounds.Max {
		stats.FlagsByVariable[variable]++

		return true
	}

	return false
}
