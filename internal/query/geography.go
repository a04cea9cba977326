// Package query implements the natural-language query engine: geographic
// entity resolution, conversation context, SQL generation and validation,
// guarded execution, and suggestion building.
package query

import (
	"fmt"
	"sort"
	"strings"
)

// Region is a resolved geographic entity. Either BBox or Center is set.
type Region struct {
	Name   string
	BBox   *BBox
	Center *Point
}

// BBox is a latitude/longitude bounding box.
type BBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Point is a named location center.
type Point struct {
	Lat, Lon float64
}

// gazetteer maps lowercase place names to regions. Lookups scan names longest
// first so "bay of bengal" wins over "bengal".
var gazetteer = map[string]Region{
	"indian ocean": {
		Name: "Indian Ocean",
		BBox: &BBox{MinLat: -60, MaxLat: 30, MinLon: 20, MaxLon: 120},
	},
	"arabian sea": {
		Name: "Arabian Sea",
		BBox: &BBox{MinLat: 0, MaxLat: 25, MinLon: 50, MaxLon: 78},
	},
	"bay of bengal": {
		Name: "Bay of Bengal",
		BBox: &BBox{MinLat: 5, MaxLat: 22, MinLon: 80, MaxLon: 100},
	},
	"pacific ocean": {
		Name: "Pacific Ocean",
		BBox: &BBox{MinLat: -60, MaxLat: 60, MinLon: 120, MaxLon: -70},
	},
	"atlantic ocean": {
		Name: "Atlantic Ocean",
		BBox: &BBox{MinLat: -60, MaxLat: 65, MinLon: -80, MaxLon: 20},
	},
	"southern ocean": {
		Name: "Southern Ocean",
		BBox: &BBox{MinLat: -90, MaxLat: -60, MinLon: -180, MaxLon: 180},
	},
	"arctic ocean": {
		Name: "Arctic Ocean",
		BBox: &BBox{MinLat: 66, MaxLat: 90, MinLon: -180, MaxLon: 180},
	},
	"mediterranean sea": {
		Name: "Mediterranean Sea",
		BBox: &BBox{MinLat: 30, MaxLat: 46, MinLon: -6, MaxLon: 36},
	},
	"red sea": {
		Name: "Red Sea",
		BBox: &BBox{MinLat: 12, MaxLat: 30, MinLon: 32, MaxLon: 44},
	},
	"andaman sea": {
		Name: "Andaman Sea",
		BBox: &BBox{MinLat: 5, MaxLat: 16, MinLon: 92, MaxLon: 99},
	},
	"gulf of mexico": {
		Name: "Gulf of Mexico",
		BBox: &BBox{MinLat: 18, MaxLat: 31, MinLon: -98, MaxLon: -80},
	},
	"south china sea": {
		Name: "South China Sea",
		BBox: &BBox{MinLat: 0, MaxLat: 23, MinLon: 99, MaxLon: 121},
	},
	"tasman sea": {
		Name: "Tasman Sea",
		BBox: &BBox{MinLat: -50, MaxLat: -30, MinLon: 150, MaxLon: 174},
	},
	"coral sea": {
		Name: "Coral Sea",
		BBox: &BBox{MinLat: -26, MaxLat: -10, MinLon: 142, MaxLon: 165},
	},
	"equator": {
		Name:   "Equator",
		BBox:   &BBox{MinLat: -5, MaxLat: 5, MinLon: -180, MaxLon: 180},
		Center: nil,
	},
	"chennai": {
		Name:   "Chennai",
		Center: &Point{Lat: 13.08, Lon: 80.27},
	},
	"mumbai": {
		Name:   "Mumbai",
		Center: &Point{Lat: 19.08, Lon: 72.88},
	},
	"kochi": {
		Name:   "Kochi",
		Center: &Point{Lat: 9.93, Lon: 76.27},
	},
	"maldives": {
		Name:   "Maldives",
		Center: &Point{Lat: 3.2, Lon: 73.2},
	},
	"madagascar": {
		Name:   "Madagascar",
		Center: &Point{Lat: -18.8, Lon: 46.9},
	},
	"sri lanka": {
		Name:   "Sri Lanka",
		Center: &Point{Lat: 7.9, Lon: 80.8},
	},
}

// gazetteerNames is sorted longest-first once at init.
var gazetteerNames = func() []string {
	names := make([]string, 0, len(gazetteer))
	for name := range gazetteer {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}

		return names[i] < names[j]
	})

	return names
}()

// ResolveRegion finds the first (longest) gazetteer name mentioned in the
// query. A miss returns nil; resolution never errors.
func ResolveRegion(nlQuery string) *Region {
	lowered := strings.ToLower(nlQuery)

	for _, name := range gazetteerNames {
		if strings.Contains(lowered, name) {
			region := gazetteer[name]

			return &region
		}
	}

	return nil
}

// PromptHint renders the region as a prompt fragment for the SQL generator.
func (r *Region) PromptHint() string {
	if r == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Geographic context: the user mentioned ")
	sb.WriteString(r.Name)
	sb.WriteString(". ")

	switch {
	case r.BBox != nil:
		writeFloatRange(&sb, "latitude", r.BBox.MinLat, r.BBox.MaxLat)
		writeFloatRange(&sb, "longitude", r.BBox.MinLon, r.BBox.MaxLon)
	case r.Center != nil:
		sb.WriteString("Center the search on ")
		writePoint(&sb, r.Center.Lat, r.Center.Lon)
		sb.WriteString(" using ST_DWithin with a sensible radius.")
	}

	return sb.String()
}

func writeFloatRange(sb *strings.Builder, axis string, min, max float64) {
	fmt.Fprintf(sb, "Filter %s between %g and %g. ", axis, min, max)
}

func writePoint(sb *strings.Builder, lat, lon float64) {
	fmt.Fprintf(sb, "ST_MakePoint(%g, %g)", lon, lat)
}
