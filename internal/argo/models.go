// Package argo decodes ARGO float NetCDF profile files into domain records
// and applies physical-plausibility screening to the measurements.
package argo

import "time"

// Float types recognised by the platform.
const (
	FloatTypeCore = "core"
	FloatTypeBGC  = "bgc"
)

// Measurement is one depth level within a profile.
//
// Pointer fields distinguish "absent in the file" from zero values; fill
// values (99999.0) are mapped to nil during parsing. Values flagged as
// outliers are preserved, never dropped.
type Measurement struct {
	Pressure              *float64
	Temperature           *float64
	Salinity              *float64
	DissolvedOxygen       *float64
	Chlorophyll           *float64
	Nitrate               *float64
	PH                    *float64
	BBP700                *float64
	DownwellingIrradiance *float64

	// QC flags follow the ARGO convention:
	// 0=no QC, 1=good, 2=probably good, 3=probably bad, 4=bad, 9=missing.
	// BBP700 and downwelling irradiance carry no QC variables in the source
	// files, so they have no flags here either.
	PressureQC        *int16
	TemperatureQC     *int16
	SalinityQC        *int16
	DissolvedOxygenQC *int16
	ChlorophyllQC     *int16
	NitrateQC         *int16
	PHQC              *int16

	// IsOutlier is set by the cleaner when any variable falls outside its
	// physically-plausible bounds.
	IsOutlier bool
}

// Profile is one float cycle: position, time, and its depth-level measurements.
type Profile struct {
	PlatformNumber   string
	CycleNumber      int
	JuldRaw          *float64
	Timestamp        *time.Time
	TimestampMissing bool
	Latitude         *float64
	Longitude        *float64
	PositionInvalid  bool
	DataMode         string
	Measurements     []Measurement
}

// ParseResult is the full decoded content of one NetCDF file.
type ParseResult struct {
	Profiles  []Profile
	FloatType string
	FileHash  string
	// Variables lists the source variable names present in the file, used
	// for dataset metadata.
	Variables []string
}

// ProfileCount returns the number of profiles in the result.
func (r *ParseResult) ProfileCount() int {
	return len(r.Profiles)
}

// MeasurementCount returns the total number of depth levels across all profiles.
func (r *ParseResult) MeasurementCount() int {
	total := 0
	for i := range r.Profiles {
		total += len(r.Profiles[i].Measurements)
	}

	return total
}
