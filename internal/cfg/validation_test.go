package cfg

import (
	"strings"
	"testing"
	"time"
)

// createValidSettings creates a valid Settings struct for testing
func createValidSettings() *Settings {
	return &Settings{
		Port:         5000,
		DataPath:     "data",
		ModelBackend: "script",
		ModelPath:    "xgb_accident_severity_model.pkl",
		ModelTimeout: 5 * time.Second,
		BcryptCost:   10,
		LogLevel:     "info",
	}
}

func TestValidateSettings_ValidConfig(t *testing.T) {
	settings := createValidSettings()

	if err := validateSettings(settings); err != nil {
		t.Errorf("Expected valid config to pass, got error: %v", err)
	}
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"port zero", func(s *Settings) { s.Port = 0 }, "port must be between"},
		{"port too high", func(s *Settings) { s.Port = 65536 }, "port must be between"},
		{"privileged port allowed", func(s *Settings) { s.Port = 80 }, ""},
		{"model server port too low", func(s *Settings) { s.ModelServerPort = 80 }, "model server port"},
		{"model server port clashes", func(s *Settings) { s.ModelServerPort = 5000 }, "must differ"},
		{"model server port valid", func(s *Settings) { s.ModelServerPort = 8090 }, ""},
		{"empty data path", func(s *Settings) { s.DataPath = "" }, "data path"},
		{"unknown backend", func(s *Settings) { s.ModelBackend = "torch" }, "model backend must be one of"},
		{"script without path", func(s *Settings) { s.ModelPath = "" }, "model path is required"},
		{"onnx without path", func(s *Settings) { s.ModelBackend = "onnx"; s.ModelPath = "" }, "model path is required"},
		{"remote without URL", func(s *Settings) { s.ModelBackend = "remote" }, "MODEL_URL"},
		{"remote with URL", func(s *Settings) {
			s.ModelBackend = "remote"
			s.ModelPath = ""
			s.ModelURL = "http://localhost:8090/predict"
		}, ""},
		{"timeout too short", func(s *Settings) { s.ModelTimeout = 50 * time.Millisecond }, "model timeout"},
		{"timeout too long", func(s *Settings) { s.ModelTimeout = 2 * time.Minute }, "model timeout"},
		{"timeout lower bound", func(s *Settings) { s.ModelTimeout = 100 * time.Millisecond }, ""},
		{"timeout upper bound", func(s *Settings) { s.ModelTimeout = time.Minute }, ""},
		{"bcrypt cost too low", func(s *Settings) { s.BcryptCost = 3 }, "bcrypt cost"},
		{"bcrypt cost too high", func(s *Settings) { s.BcryptCost = 32 }, "bcrypt cost"},
		{"bad log level", func(s *Settings) { s.LogLevel = "verbose" }, "invalid log level"},
		{"wildcard origin", func(s *Settings) { s.AllowedOrigins = []string{"*"} }, ""},
		{"bad origin", func(s *Settings) { s.AllowedOrigins = []string{"localhost:3000"} }, "allowed origin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := createValidSettings()
			tt.mutate(settings)

			err := validateSettings(settings)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got none", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
