// Package features turns raw accident-context records into the numeric feature
// vector the severity model was trained on.
//
// Column order, category encoding and missing-value handling mirror the training
// pipeline exactly. Nothing here rejects input: unparseable values become NaN and
// unknown categories become all-zero indicator rows. Callers decide whether a
// vector with missing values is acceptable.
package features

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// NumFeatures is the width of the model input.
const NumFeatures = 19

// Feature column indexes, in training-time order.
const (
	NumLanes = iota
	Curvature
	SpeedLimit
	RoadSignsPresent
	PublicRoad
	Holiday
	SchoolSeason
	NumReportedAccidents
	RoadTypeHighway
	RoadTypeRural
	RoadTypeUrban
	LightingDaylight
	LightingDim
	LightingNight
	WeatherClear
	WeatherFoggy
	WeatherRainy
	TimeSin
	TimeCos
)

// names holds the column names the model schema uses, indexed by the constants above.
var names = [NumFeatures]string{
	"num_lanes", "curvature", "speed_limit", "road_signs_present",
	"public_road", "holiday", "school_season", "num_reported_accidents",
	"rt_highway", "rt_rural", "rt_urban",
	"lt_daylight", "lt_dim", "lt_night",
	"wtr_clear", "wtr_foggy", "wtr_rainy",
	"time_sin", "time_cos",
}

// Raw record keys.
const (
	KeyRoadSignsPresent     = "road_signs_present"
	KeyPublicRoad           = "public_road"
	KeyHoliday              = "holiday"
	KeySchoolSeason         = "school_season"
	KeyNumLanes             = "num_lanes"
	KeyCurvature            = "curvature"
	KeySpeedLimit           = "speed_limit"
	KeyNumReportedAccidents = "num_reported_accidents"
	KeyTimeOfDay            = "time_of_day"
	KeyRoadType             = "road_type"
	KeyLighting             = "lighting"
	KeyWeather              = "weather"
)

// timeOrder is the cyclic ordering of time_of_day labels.
var timeOrder = []string{"morning", "afternoon", "evening"}

// RawRecord is a decoded request body. Values keep whatever JSON type the
// client sent so the record can be stored back verbatim.
type RawRecord map[string]any

// Vector is an encoded record. Missing values are NaN.
type Vector [NumFeatures]float64

// Names returns the feature column names in vector order.
func Names() []string {
	out := make([]string, NumFeatures)
	copy(out, names[:])
	return out
}

// Encode maps a raw record to its feature vector. It is pure and safe for
// concurrent use.
func Encode(raw RawRecord) Vector {
	var v Vector

	v[NumLanes] = numeric(raw[KeyNumLanes])
	v[Curvature] = numeric(raw[KeyCurvature])
	v[SpeedLimit] = numeric(raw[KeySpeedLimit])
	v[RoadSignsPresent] = binary(raw[KeyRoadSignsPresent])
	v[PublicRoad] = binary(raw[KeyPublicRoad])
	v[Holiday] = binary(raw[KeyHoliday])
	v[SchoolSeason] = binary(raw[KeySchoolSeason])
	v[NumReportedAccidents] = numeric(raw[KeyNumReportedAccidents])

	oneHot(&v, RoadTypeHighway, raw[KeyRoadType], "highway", "rural", "urban")
	oneHot(&v, LightingDaylight, raw[KeyLighting], "daylight", "dim", "night")
	oneHot(&v, WeatherClear, raw[KeyWeather], "clear", "foggy", "rainy")

	v[TimeSin], v[TimeCos] = cyclicTime(raw[KeyTimeOfDay])

	return v
}

// binary maps the literal strings "Yes"/"No" to 1/0. Anything else is missing.
func binary(x any) float64 {
	s, ok := x.(string)
	if !ok {
		return math.NaN()
	}
	switch s {
	case "Yes":
		return 1
	case "No":
		return 0
	}
	return math.NaN()
}

// numeric coerces a JSON number, numeric string or bool to float64.
// Values that cannot be parsed are missing, never zero.
func numeric(x any) float64 {
	switch n := x.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case bool:
		if n {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}

// oneHot writes one indicator per category starting at index first.
// Matching is exact; an unknown value leaves every indicator at zero.
func oneHot(v *Vector, first int, x any, categories ...string) {
	s, _ := x.(string)
	for i, c := range categories {
		if s == c {
			v[first+i] = 1
		} else {
			v[first+i] = 0
		}
	}
}

// cyclicTime places time_of_day on the unit circle. Unknown or non-string
// labels fall back to index 0 ("morning").
func cyclicTime(x any) (sin, cos float64) {
	idx := 0
	if s, ok := x.(string); ok {
		s = strings.ToLower(s)
		for i, label := range timeOrder {
			if s == label {
				idx = i
				break
			}
		}
	}
	angle := 2 * math.Pi * float64(idx) / float64(len(timeOrder))
	return math.Sin(angle), math.Cos(angle)
}

// Missing returns the names of the features that are NaN or infinite.
func (v Vector) Missing() []string {
	var out []string
	for i, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			out = append(out, names[i])
		}
	}
	return out
}

// Float32 converts the vector for runtimes that take single precision input.
func (v Vector) Float32() []float32 {
	out := make([]float32, NumFeatures)
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

// Nullable returns the vector with absent values as nil, for JSON transports
// that cannot carry NaN.
func (v Vector) Nullable() []*float64 {
	out := make([]*float64, NumFeatures)
	for i, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		f := f
		out[i] = &f
	}
	return out
}

// Snapshot returns the sanitized name-to-value mapping stored with history entries.
func (v Vector) Snapshot() Snapshot {
	s := make(Snapshot, NumFeatures)
	for i, p := range v.Nullable() {
		s[names[i]] = p
	}
	return s
}
