package features

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() RawRecord {
	return RawRecord{
		"num_lanes":              2.0,
		"curvature":              0.1,
		"speed_limit":            60.0,
		"road_signs_present":     "Yes",
		"public_road":            "Yes",
		"holiday":                "No",
		"school_season":          "No",
		"num_reported_accidents": 3.0,
		"time_of_day":            "Afternoon",
		"road_type":              "highway",
		"lighting":               "daylight",
		"weather":                "clear",
	}
}

func TestEncode_ReferenceRecord(t *testing.T) {
	got := Encode(sampleRecord())

	want := Vector{2, 0.1, 60, 1, 1, 0, 0, 3, 1, 0, 0, 1, 0, 0, 1, 0, 0,
		math.Sin(2 * math.Pi / 3), math.Cos(2 * math.Pi / 3)}

	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("feature %s: expected %v, got %v", names[i], want[i], got[i])
		}
	}
	assert.Empty(t, got.Missing())
}

func TestEncode_Deterministic(t *testing.T) {
	a := Encode(sampleRecord())
	b := Encode(sampleRecord())
	for i := range a {
		assert.Equal(t, math.Float64bits(a[i]), math.Float64bits(b[i]), names[i])
	}
}

func TestNames_Order(t *testing.T) {
	n := Names()
	require.Len(t, n, NumFeatures)
	assert.Equal(t, "num_lanes", n[0])
	assert.Equal(t, "num_reported_accidents", n[NumReportedAccidents])
	assert.Equal(t, "rt_highway", n[RoadTypeHighway])
	assert.Equal(t, "time_cos", n[NumFeatures-1])

	// Callers get a copy.
	n[0] = "changed"
	assert.Equal(t, "num_lanes", Names()[0])
}

func TestEncode_BinaryFields(t *testing.T) {
	testCases := []struct {
		name    string
		value   any
		want    float64
		missing bool
	}{
		{"yes", "Yes", 1, false},
		{"no", "No", 0, false},
		{"lower case yes", "yes", 0, true},
		{"bool", true, 0, true},
		{"number", 1.0, 0, true},
		{"nil", nil, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := sampleRecord()
			r[KeyHoliday] = tc.value
			v := Encode(r)
			if tc.missing {
				assert.True(t, math.IsNaN(v[Holiday]))
				assert.Equal(t, []string{"holiday"}, v.Missing())
				return
			}
			assert.Equal(t, tc.want, v[Holiday])
		})
	}
}

func TestEncode_NumericCoercion(t *testing.T) {
	testCases := []struct {
		name    string
		value   any
		want    float64
		missing bool
	}{
		{"float", 45.5, 45.5, false},
		{"int", 3, 3, false},
		{"numeric string", "80", 80, false},
		{"padded string", " 0.25 ", 0.25, false},
		{"json number", json.Number("12"), 12, false},
		{"bool true", true, 1, false},
		{"garbage string", "fast", 0, true},
		{"empty string", "", 0, true},
		{"absent", nil, 0, true},
		{"object", map[string]any{"x": 1}, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := sampleRecord()
			r[KeySpeedLimit] = tc.value
			v := Encode(r)
			if tc.missing {
				assert.True(t, math.IsNaN(v[SpeedLimit]), "expected NaN, got %v", v[SpeedLimit])
				return
			}
			assert.InDelta(t, tc.want, v[SpeedLimit], 1e-12)
		})
	}
}

func TestEncode_MissingKeyIsNotZero(t *testing.T) {
	r := sampleRecord()
	delete(r, KeyNumLanes)
	v := Encode(r)
	assert.True(t, math.IsNaN(v[NumLanes]))
	assert.Equal(t, []string{"num_lanes"}, v.Missing())
}

func TestEncode_TimeOfDay(t *testing.T) {
	morning := Encode(RawRecord{"time_of_day": "morning"})
	assert.InDelta(t, 0.0, morning[TimeSin], 1e-12)
	assert.InDelta(t, 1.0, morning[TimeCos], 1e-12)

	for _, label := range []string{"Morning", "MORNING", "night", "", "  morning"} {
		v := Encode(RawRecord{"time_of_day": label})
		assert.Equal(t, morning[TimeSin], v[TimeSin], label)
		assert.Equal(t, morning[TimeCos], v[TimeCos], label)
	}

	// Non-string and absent labels fall back to index 0 as well.
	for _, x := range []any{nil, 2.0, true} {
		v := Encode(RawRecord{"time_of_day": x})
		assert.Equal(t, morning[TimeSin], v[TimeSin])
		assert.Equal(t, morning[TimeCos], v[TimeCos])
	}

	evening := Encode(RawRecord{"time_of_day": "EVENING"})
	assert.InDelta(t, math.Sin(4*math.Pi/3), evening[TimeSin], 1e-12)
	assert.InDelta(t, math.Cos(4*math.Pi/3), evening[TimeCos], 1e-12)
}

func TestEncode_OneHotExclusivity(t *testing.T) {
	groups := []struct {
		key        string
		first      int
		categories []string
	}{
		{KeyRoadType, RoadTypeHighway, []string{"highway", "rural", "urban"}},
		{KeyLighting, LightingDaylight, []string{"daylight", "dim", "night"}},
		{KeyWeather, WeatherClear, []string{"clear", "foggy", "rainy"}},
	}

	for _, g := range groups {
		t.Run(g.key, func(t *testing.T) {
			for i, c := range g.categories {
				v := Encode(RawRecord{g.key: c})
				for j := range g.categories {
					want := 0.0
					if i == j {
						want = 1
					}
					assert.Equal(t, want, v[g.first+j], "%s=%s slot %d", g.key, c, j)
				}
			}

			// Matching is exact: case variants and unknown values are all-zero rows.
			for _, unknown := range []any{"snowy", "Highway", "", nil, 1.0} {
				v := Encode(RawRecord{g.key: unknown})
				for j := range g.categories {
					assert.Equal(t, 0.0, v[g.first+j])
				}
			}
		})
	}
}

func TestVector_Conversions(t *testing.T) {
	r := sampleRecord()
	r[KeyCurvature] = "bent"
	v := Encode(r)

	f32 := v.Float32()
	require.Len(t, f32, NumFeatures)
	assert.Equal(t, float32(60), f32[SpeedLimit])

	n := v.Nullable()
	require.Len(t, n, NumFeatures)
	assert.Nil(t, n[Curvature])
	require.NotNil(t, n[NumLanes])
	assert.Equal(t, 2.0, *n[NumLanes])
}

func TestSnapshot_OrderedJSON(t *testing.T) {
	r := sampleRecord()
	r[KeyCurvature] = "bent"
	data, err := json.Marshal(Encode(r).Snapshot())
	require.NoError(t, err)

	// Keys come out in schema order and the absent value is null.
	s := string(data)
	assert.Contains(t, s, `"curvature":null`)
	prev := -1
	for _, n := range names {
		idx := strings.Index(s, `"`+n+`":`)
		require.GreaterOrEqual(t, idx, 0, n)
		assert.Greater(t, idx, prev, n)
		prev = idx
	}

	var back Snapshot
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Len(t, back, NumFeatures)
	assert.Nil(t, back["curvature"])
	assert.True(t, math.IsNaN(back.Vector()[Curvature]))
	assert.Equal(t, 60.0, back.Vector()[SpeedLimit])
}

func TestSnapshot_ExtraKeys(t *testing.T) {
	one := 1.0
	s := Snapshot{"num_lanes": &one, "zz_extra": nil, "aa_extra": &one}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `{"num_lanes":1,"aa_extra":1,"zz_extra":null}`, string(data))

	data, err = json.Marshal(Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))
}
