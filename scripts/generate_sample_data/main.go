package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"rasp/internal/features"

	"github.com/go-resty/resty/v2"
)

var (
	timesOfDay = []string{"morning", "afternoon", "evening", "Morning", "Evening"}
	roadTypes  = []string{"highway", "rural", "urban"}
	lightings  = []string{"daylight", "dim", "night"}
	weathers   = []string{"clear", "foggy", "rainy"}
	yesNo      = []string{"Yes", "No"}
)

type predictResponse struct {
	Severity *float64 `json:"severity_prediction"`
	Error    string   `json:"error"`
}

func main() {
	var (
		url     = flag.String("url", "http://localhost:5000/api/predict", "Prediction endpoint")
		count   = flag.Int("count", 50, "Number of records to send")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
		invalid = flag.Float64("invalid", 0.05, "Fraction of records with an unparseable numeric field")
	)
	flag.Parse()

	fmt.Printf("Sending %d sample records to %s...\n", *count, *url)

	rng := rand.New(rand.NewSource(*seed))
	client := resty.New().SetTimeout(10 * time.Second)

	var ok, failed int
	for i := 0; i < *count; i++ {
		raw := sampleRecord(rng, *invalid)

		result := &predictResponse{}
		resp, err := client.R().
			SetBody(raw).
			SetResult(result).
			SetError(result).
			Post(*url)
		if err != nil {
			log.Fatalf("Request failed: %v", err)
		}

		if resp.IsError() || result.Severity == nil {
			failed++
			fmt.Printf("  #%d %d %s\n", i+1, resp.StatusCode(), result.Error)
			continue
		}
		ok++
		fmt.Printf("  #%d %-8s %-8s %-6s severity=%.2f\n", i+1,
			raw[features.KeyRoadType], raw[features.KeyLighting], raw[features.KeyWeather], *result.Severity)
	}

	fmt.Printf("✓ %d predictions, %d failures\n", ok, failed)
}

// sampleRecord draws a plausible accident-context record.
func sampleRecord(rng *rand.Rand, invalid float64) features.RawRecord {
	pick := func(xs []string) string { return xs[rng.Intn(len(xs))] }

	raw := features.RawRecord{
		features.KeyNumLanes:             float64(1 + rng.Intn(4)),
		features.KeyCurvature:            float64(rng.Intn(100)) / 100,
		features.KeySpeedLimit:           float64(25 + 5*rng.Intn(12)),
		features.KeyRoadSignsPresent:     pick(yesNo),
		features.KeyPublicRoad:           pick(yesNo),
		features.KeyHoliday:              pick(yesNo),
		features.KeySchoolSeason:         pick(yesNo),
		features.KeyNumReportedAccidents: float64(rng.Intn(8)),
		features.KeyTimeOfDay:            pick(timesOfDay),
		features.KeyRoadType:             pick(roadTypes),
		features.KeyLighting:             pick(lightings),
		features.KeyWeather:              pick(weathers),
	}

	// Numbers sometimes arrive as strings from form inputs.
	if rng.Float64() < 0.3 {
		raw[features.KeySpeedLimit] = fmt.Sprintf("%v", raw[features.KeySpeedLimit])
	}
	if rng.Float64() < invalid {
		raw[features.KeyCurvature] = "unknown"
	}
	return raw
}
