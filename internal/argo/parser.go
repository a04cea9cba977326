package argo

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// Parser errors. ErrMissingVariable and ErrTrajectoryFile are permanent
// failures: retrying the same file can never succeed.
var (
	ErrMalformedFile   = errors.New("malformed NetCDF file")
	ErrMissingVariable = errors.New("missing required variable")
	ErrTrajectoryFile  = errors.New("trajectory files are not supported")
	ErrNoProfiles      = errors.New("file contains no profiles")
)

// fillValue is the ARGO convention for missing numeric data.
const fillValue = 99999.0

// juldEpoch is the reference date for the JULD variable: days since 1950-01-01T00:00:00Z.
var juldEpoch = time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)

// requiredVariables must all be present for a file to be ingestible.
// At least one of TEMP or PSAL is additionally required.
var requiredVariables = []string{
	"PLATFORM_NUMBER",
	"CYCLE_NUMBER",
	"JULD",
	"LATITUDE",
	"LONGITUDE",
	"PRES",
}

// bgcVariables mark a float as biogeochemical when any is present.
var bgcVariables = []string{
	"DOXY",
	"CHLA",
	"NITRATE",
	"PH_IN_SITU_TOTAL",
	"BBP700",
	"DOWNWELLING_IRRADIANCE",
}

// ValidateFile opens the file and checks that it is a usable ARGO profile file.
// It does not decode measurement data.
func ValidateFile(path string) error {
	nc, err := netcdf.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	defer nc.Close()

	return validateGroup(nc)
}

func validateGroup(nc api.Group) error {
	for _, dim := range nc.ListDimensions() {
		if dim == "N_MEASUREMENT" {
			return ErrTrajectoryFile
		}
	}

	present := make(map[string]bool)
	for _, name := range nc.ListVariables() {
		present[name] = true
	}

	for _, name := range requiredVariables {
		if !present[name] {
			return fmt.Errorf("%w: %s", ErrMissingVariable, name)
		}
	}

	if !present["TEMP"] && !present["PSAL"] {
		return fmt.Errorf("%w: TEMP or PSAL", ErrMissingVariable)
	}

	return nil
}

// ParseFile decodes every profile in an ARGO NetCDF file.
//
// Depth levels with missing pressure are skipped, as are levels carrying
// neither temperature nor salinity. Fill values (99999.0) and NaN become nil.
func ParseFile(path string) (*ParseResult, error) {
	hash, err := FileSHA256(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}

	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	defer nc.Close()

	if err := validateGroup(nc); err != nil {
		return nil, err
	}

	present := make(map[string]bool)
	for _, name := range nc.ListVariables() {
		present[name] = true
	}

	platforms, err := readStrings(nc, "PLATFORM_NUMBER")
	if err != nil {
		return nil, err
	}

	cycles, err := readInts(nc, "CYCLE_NUMBER")
	if err != nil {
		return nil, err
	}

	nProf := len(cycles)
	if nProf == 0 {
		return nil, ErrNoProfiles
	}

	juld, err := readFloats(nc, "JULD")
	if err != nil {
		return nil, err
	}

	lats, err := readFloats(nc, "LATITUDE")
	if err != nil {
		return nil, err
	}

	lons, err := readFloats(nc, "LONGITUDE")
	if err != nil {
		return nil, err
	}

	dataModes := readCharColumn(nc, "DATA_MODE")

	params := readParams(nc, present, nProf)

	result := &ParseResult{
		FloatType: determineFloatType(present),
		FileHash:  hash,
		Variables: presentParamNames(present),
		Profiles:  make([]Profile, 0, nProf),
	}

	for i := 0; i < nProf; i++ {
		profile := Profile{
			PlatformNumber: trimPlatform(valueAt(platforms, i)),
			CycleNumber:    cycles[i],
		}

		if i < len(dataModes) {
			profile.DataMode = dataModes[i]
		}

		if raw, ok := floatAt(juld, i); ok {
			profile.JuldRaw = &raw
			ts := julianToTime(raw)
			profile.Timestamp = &ts
		} else {
			profile.TimestampMissing = true
		}

		lat, latOK := floatAt(lats, i)
		lon, lonOK := floatAt(lons, i)

		if latOK && lonOK && math.Abs(lat) <= 90 && math.Abs(lon) <= 180 {
			profile.Latitude = &lat
			profile.Longitude = &lon
		} else {
			profile.PositionInvalid = true
		}

		profile.Measurements = buildMeasurements(params, i)

		result.Profiles = append(result.Profiles, profile)
	}

	return result, nil
}

// paramData holds one parameter's values and QC flags for all profiles.
type paramData struct {
	values [][]float64
	qc     []string
}

// paramVariables maps NetCDF parameter names to their QC variable names.
// An empty QC name means the parameter carries no QC flags.
var paramVariables = []struct {
	name string
	qc   string
}{
	{"PRES", "PRES_QC"},
	{"TEMP", "TEMP_QC"},
	{"PSAL", "PSAL_QC"},
	{"DOXY", "DOXY_QC"},
	{"CHLA", "CHLA_QC"},
	{"NITRATE", "NITRATE_QC"},
	{"PH_IN_SITU_TOTAL", "PH_IN_SITU_TOTAL_QC"},
	{"BBP700", ""},
	{"DOWNWELLING_IRRADIANCE", ""},
}

func readParams(nc api.Group, present map[string]bool, nProf int) map[string]paramData {
	params := make(map[string]paramData)

	for _, pv := range paramVariables {
		if !present[pv.name] {
			continue
		}

		values := readMatrix(nc, pv.name, nProf)
		if values == nil {
			continue
		}

		data := paramData{values: values}
		if pv.qc != "" && present[pv.qc] {
			data.qc = readQCMatrix(nc, pv.qc)
		}

		params[pv.name] = data
	}

	return params
}

func buildMeasurements(params map[string]paramData, profileIdx int) []Measurement {
	pres, ok := params["PRES"]
	if !ok || profileIdx >= len(pres.values) {
		return nil
	}

	levels := len(pres.values[profileIdx])
	measurements := make([]Measurement, 0, levels)

	for level := 0; level < levels; level++ {
		p, pOK := cellAt(params, "PRES", profileIdx, level)
		if !pOK {
			continue
		}

		t, tOK := cellAt(params, "TEMP", profileIdx, level)
		s, sOK := cellAt(params, "PSAL", profileIdx, level)

		// a level with neither temperature nor salinity carries no signal
		if !tOK && !sOK {
			continue
		}

		m := Measurement{Pressure: &p}
		if tOK {
			m.Temperature = &t
		}
		if sOK {
			m.Salinity = &s
		}

		if v, ok := cellAt(params, "DOXY", profileIdx, level); ok {
			m.DissolvedOxygen = &v
		}
		if v, ok := cellAt(params, "CHLA", profileIdx, level); ok {
			m.Chlorophyll = &v
		}
		if v, ok := cellAt(params, "NITRATE", profileIdx, level); ok {
			m.Nitrate = &v
		}
		if v, ok := cellAt(params, "PH_IN_SITU_TOTAL", profileIdx, level); ok {
			m.PH = &v
		}
		if v, ok := cellAt(params, "BBP700", profileIdx, level); ok {
			m.BBP700 = &v
		}
		if v, ok := cellAt(params, "DOWNWELLING_IRRADIANCE", profileIdx, level); ok {
			m.DownwellingIrradiance = &v
		}

		m.PressureQC = qcAt(params, "PRES", profileIdx, level)
		m.TemperatureQC = qcAt(params, "TEMP", profileIdx, level)
		m.SalinityQC = qcAt(params, "PSAL", profileIdx, level)
		m.DissolvedOxygenQC = qcAt(params, "DOXY", profileIdx, level)
		m.ChlorophyllQC = qcAt(params, "CHLA", profileIdx, level)
		m.NitrateQC = qcAt(params, "NITRATE", profileIdx, level)
		m.PHQC = qcAt(params, "PH_IN_SITU_TOTAL", profileIdx, level)

		measurements = append(measurements, m)
	}

	return measurements
}

func cellAt(params map[string]paramData, name string, profileIdx, level int) (float64, bool) {
	data, ok := params[name]
	if !ok || profileIdx >= len(data.values) || level >= len(data.values[profileIdx]) {
		return 0, false
	}

	v := data.values[profileIdx][level]
	if isMissing(v) {
		return 0, false
	}

	return v, true
}

func qcAt(params map[string]paramData, name string, profileIdx, level int) *int16 {
	data, ok := params[name]
	if !ok || profileIdx >= len(data.qc) {
		return nil
	}

	row := data.qc[profileIdx]
	if level >= len(row) {
		return nil
	}

	return DecodeQCFlag(row[level])
}

// DecodeQCFlag converts an ARGO QC character ('0'..'9') into a flag value.
// Blanks and anything non-numeric decode to nil.
func DecodeQCFlag(c byte) *int16 {
	if c < '0' || c > '9' {
		return nil
	}

	flag := int16(c - '0')

	return &flag
}

func determineFloatType(present map[string]bool) string {
	for _, name := range bgcVariables {
		if present[name] {
			return FloatTypeBGC
		}
	}

	return FloatTypeCore
}

func presentParamNames(present map[string]bool) []string {
	names := make([]string, 0, len(paramVariables))
	for _, pv := range paramVariables {
		if present[pv.name] {
			names = append(names, pv.name)
		}
	}

	return names
}

// julianToTime converts fractional days since the 1950-01-01 epoch to UTC.
func julianToTime(days float64) time.Time {
	seconds := days * 86400.0

	return juldEpoch.Add(time.Duration(seconds * float64(time.Second))).UTC()
}

func isMissing(v float64) bool {
	return math.IsNaN(v) || math.Abs(v-fillValue) < 1e-6
}

func trimPlatform(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return r == ' ' || r == 0
	})
}

// FileSHA256 returns the hex-encoded SHA-256 digest of a file.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ── NetCDF value decoding ───────────────────────────────────────────────────
//
// The decoder surfaces Go slices whose element type depends on the on-disk
// type, so every read goes through a type switch. 2-D char arrays come back
// as one string per profile, which is exactly the shape QC flags need.

func readFloats(nc api.Group, name string) ([]float64, error) {
	v, err := nc.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrMalformedFile, name, err)
	}

	return toFloat1D(v.Values), nil
}

func readInts(nc api.Group, name string) ([]int, error) {
	v, err := nc.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrMalformedFile, name, err)
	}

	switch vals := v.Values.(type) {
	case []int32:
		out := make([]int, len(vals))
		for i, x := range vals {
			out[i] = int(x)
		}

		return out, nil
	case []int64:
		out := make([]int, len(vals))
		for i, x := range vals {
			out[i] = int(x)
		}

		return out, nil
	case []int16:
		out := make([]int, len(vals))
		for i, x := range vals {
			out[i] = int(x)
		}

		return out, nil
	case []float64:
		out := make([]int, len(vals))
		for i, x := range vals {
			out[i] = int(x)
		}

		return out, nil
	case []float32:
		out := make([]int, len(vals))
		for i, x := range vals {
			out[i] = int(x)
		}

		return out, nil
	case int32:
		return []int{int(vals)}, nil
	}

	return nil, fmt.Errorf("%w: unexpected type for %s", ErrMalformedFile, name)
}

func readStrings(nc api.Group, name string) ([]string, error) {
	v, err := nc.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrMalformedFile, name, err)
	}

	switch vals := v.Values.(type) {
	case []string:
		return vals, nil
	case string:
		return []string{vals}, nil
	}

	return nil, fmt.Errorf("%w: unexpected type for %s", ErrMalformedFile, name)
}

// readCharColumn reads a 1-D char variable (one character per profile),
// tolerating both the single-string and per-profile-string encodings.
// Missing variables yield nil.
func readCharColumn(nc api.Group, name string) []string {
	v, err := nc.GetVariable(name)
	if err != nil {
		return nil
	}

	switch vals := v.Values.(type) {
	case string:
		out := make([]string, len(vals))
		for i := range vals {
			out[i] = string(vals[i])
		}

		return out
	case []string:
		return vals
	}

	return nil
}

// readMatrix reads a 2-D numeric variable as one row per profile. 1-D values
// for a single-profile file are promoted to a one-row matrix.
func readMatrix(nc api.Group, name string, nProf int) [][]float64 {
	v, err := nc.GetVariable(name)
	if err != nil {
		return nil
	}

	switch vals := v.Values.(type) {
	case [][]float64:
		return vals
	case [][]float32:
		out := make([][]float64, len(vals))
		for i, row := range vals {
			out[i] = toFloat1D(row)
		}

		return out
	case []float64:
		if nProf == 1 {
			return [][]float64{vals}
		}
	case []float32:
		if nProf == 1 {
			return [][]float64{toFloat1D(vals)}
		}
	}

	return nil
}

func readQCMatrix(nc api.Group, name string) []string {
	v, err := nc.GetVariable(name)
	if err != nil {
		return nil
	}

	switch vals := v.Values.(type) {
	case []string:
		return vals
	case string:
		return []string{vals}
	}

	return nil
}

func toFloat1D(values any) []float64 {
	switch vals := values.(type) {
	case []float64:
		return vals
	case []float32:
		out := make([]float64, len(vals))
		for i, x := range vals {
			out[i] = float64(x)
		}

		return out
	case float64:
		return []float64{vals}
	case float32:
		return []float64{float64(vals)}
	}

	return nil
}

func valueAt(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}

	return ""
}

func floatAt(values []float64, i int) (float64, bool) {
	if i >= len(values) {
		return 0, false
	}

	v := values[i]
	if isMissing(v) {
		return 0, false
	}

	return v, true
}
