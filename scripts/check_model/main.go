package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"rasp/internal/features"
	"rasp/internal/ml"
	"rasp/internal/predict"
)

func main() {
	var (
		backend    = flag.String("backend", ml.BackendScript, "Model backend: script, onnx, remote")
		modelPath  = flag.String("model", "xgb_accident_severity_model.pkl", "Path to the model artifact")
		modelURL   = flag.String("url", "", "Remote inference URL")
		pythonPath = flag.String("python", "", "Python interpreter (auto-detect when empty)")
		libPath    = flag.String("onnx-lib", "", "ONNX Runtime shared library")
	)
	flag.Parse()

	fmt.Println("🧪 Testing severity model")
	fmt.Println("=========================")
	fmt.Printf("📁 Backend: %s, model: %s\n", *backend, *modelPath)

	model, err := ml.Load(ml.Config{
		Backend:     *backend,
		ModelPath:   *modelPath,
		ModelURL:    *modelURL,
		PythonPath:  *pythonPath,
		ONNXLibPath: *libPath,
		Timeout:     10 * time.Second,
	}, nil)
	if err != nil {
		log.Fatalf("❌ Failed to load model: %v", err)
	}
	defer model.Close()
	fmt.Println("✅ Model loaded")

	reference := features.RawRecord{
		"num_lanes": 2.0, "curvature": 0.1, "speed_limit": 60.0,
		"road_signs_present": "Yes", "public_road": "Yes", "holiday": "No", "school_season": "No",
		"num_reported_accidents": 3.0, "time_of_day": "Afternoon",
		"road_type": "highway", "lighting": "daylight", "weather": "clear",
	}

	testCases := []struct {
		name   string
		mutate func(r features.RawRecord)
	}{
		{"Reference record", func(features.RawRecord) {}},
		{"Night, rainy, curved rural road", func(r features.RawRecord) {
			r["lighting"], r["weather"], r["road_type"], r["curvature"] = "night", "rainy", "rural", 0.9
		}},
		{"Unknown categories", func(r features.RawRecord) {
			r["road_type"], r["weather"], r["time_of_day"] = "gravel", "snow", "midnight"
		}},
		{"Unparseable speed limit", func(r features.RawRecord) { r["speed_limit"] = "fast" }},
	}

	failed := 0
	for _, tc := range testCases {
		raw := features.RawRecord{}
		for k, v := range reference {
			raw[k] = v
		}
		tc.mutate(raw)

		vec := features.Encode(raw)
		out, err := model.Predict(context.Background(), vec)
		if err != nil {
			failed++
			fmt.Printf("❌ %s: %v\n", tc.name, err)
			continue
		}
		fmt.Printf("✅ %s: raw=%.6f severity=%.2f missing=%v\n", tc.name, out, predict.Scale(out), vec.Missing())
	}

	if failed > 0 {
		model.Close()
		os.Exit(1)
	}
}
