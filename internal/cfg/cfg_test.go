package cfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestLoadFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		wantErr  bool
		validate func(t *testing.T, settings Settings)
	}{
		{
			name:    "defaults",
			envVars: map[string]string{},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.Port != 5000 {
					t.Errorf("expected default Port 5000, got %d", settings.Port)
				}
				if settings.DataPath != "data" {
					t.Errorf("expected default DataPath 'data', got %s", settings.DataPath)
				}
				if settings.ModelBackend != "script" {
					t.Errorf("expected default backend 'script', got %s", settings.ModelBackend)
				}
				if settings.ModelPath != "xgb_accident_severity_model.pkl" {
					t.Errorf("expected default ModelPath, got %s", settings.ModelPath)
				}
				if settings.ModelTimeout != 5*time.Second {
					t.Errorf("expected default ModelTimeout 5s, got %v", settings.ModelTimeout)
				}
				if settings.StrictValidation {
					t.Error("expected StrictValidation to default to false")
				}
				if settings.BcryptCost != bcrypt.DefaultCost {
					t.Errorf("expected default BcryptCost %d, got %d", bcrypt.DefaultCost, settings.BcryptCost)
				}
				if len(settings.AllowedOrigins) != 0 {
					t.Errorf("expected no allowed origins, got %v", settings.AllowedOrigins)
				}
				if settings.ModelServerPort != 0 {
					t.Errorf("expected model server disabled, got port %d", settings.ModelServerPort)
				}
			},
		},
		{
			name: "custom settings",
			envVars: map[string]string{
				"PORT":              "8081",
				"DATA_PATH":         "/var/lib/rasp",
				"MODEL_BACKEND":     "onnx",
				"MODEL_PATH":        "models/severity.onnx",
				"ONNX_LIB_PATH":     "/usr/lib/libonnxruntime.so",
				"MODEL_TIMEOUT":     "2s",
				"STRICT_VALIDATION": "true",
				"BCRYPT_COST":       "12",
				"ALLOWED_ORIGINS":   "http://localhost:3000, https://rasp.example.com",
				"LOG_LEVEL":         "debug",
				"MODEL_SERVER_PORT": "8090",
				"LEGACY_HISTORY":    "history.json",
			},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.Port != 8081 {
					t.Errorf("expected Port 8081, got %d", settings.Port)
				}
				if settings.ModelBackend != "onnx" || settings.ModelPath != "models/severity.onnx" {
					t.Errorf("unexpected model settings %s %s", settings.ModelBackend, settings.ModelPath)
				}
				if settings.ONNXLibPath != "/usr/lib/libonnxruntime.so" {
					t.Errorf("expected ONNXLibPath, got %s", settings.ONNXLibPath)
				}
				if settings.ModelTimeout != 2*time.Second {
					t.Errorf("expected ModelTimeout 2s, got %v", settings.ModelTimeout)
				}
				if !settings.StrictValidation {
					t.Error("expected StrictValidation to be true")
				}
				if settings.BcryptCost != 12 {
					t.Errorf("expected BcryptCost 12, got %d", settings.BcryptCost)
				}
				want := []string{"http://localhost:3000", "https://rasp.example.com"}
				if strings.Join(settings.AllowedOrigins, "|") != strings.Join(want, "|") {
					t.Errorf("expected origins %v, got %v", want, settings.AllowedOrigins)
				}
				if settings.LogLevel != "debug" {
					t.Errorf("expected LogLevel debug, got %s", settings.LogLevel)
				}
				if settings.ModelServerPort != 8090 {
					t.Errorf("expected ModelServerPort 8090, got %d", settings.ModelServerPort)
				}
				if settings.LegacyHistoryPath != "history.json" {
					t.Errorf("expected LegacyHistoryPath, got %s", settings.LegacyHistoryPath)
				}
			},
		},
		{
			name: "remote backend",
			envVars: map[string]string{
				"MODEL_BACKEND": "remote",
				"MODEL_URL":     "http://localhost:8090/predict",
			},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.ModelURL != "http://localhost:8090/predict" {
					t.Errorf("expected ModelURL, got %s", settings.ModelURL)
				}
			},
		},
		{
			name:    "remote backend without URL",
			envVars: map[string]string{"MODEL_BACKEND": "remote"},
			wantErr: true,
		},
		{
			name:    "unknown backend",
			envVars: map[string]string{"MODEL_BACKEND": "tensorflow"},
			wantErr: true,
		},
		{
			name:    "invalid port",
			envVars: map[string]string{"PORT": "70000"},
			wantErr: true,
		},
		{
			name:    "invalid log level",
			envVars: map[string]string{"LOG_LEVEL": "loud"},
			wantErr: true,
		},
		{
			name:    "non-numeric port",
			envVars: map[string]string{"PORT": "abc"},
			wantErr: true,
		},
		{
			name:    "timeout without unit",
			envVars: map[string]string{"MODEL_TIMEOUT": "5"},
			wantErr: true,
		},
		{
			name:    "non-boolean strict validation",
			envVars: map[string]string{"STRICT_VALIDATION": "maybe"},
			wantErr: true,
		},
		{
			name:    "non-numeric bcrypt cost",
			envVars: map[string]string{"BCRYPT_COST": "high"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			settings, err := loadFromEnv()

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	tests := []struct {
		name         string
		yamlContent  string
		envOverrides map[string]string
		wantErr      bool
		validate     func(t *testing.T, settings Settings)
	}{
		{
			name: "full config",
			yamlContent: `
server:
  port: 8080
  allowedOrigins: ["http://localhost:3000"]
  modelServerPort: 8090
model:
  backend: "script"
  path: "models/xgb.pkl"
  pythonPath: "/opt/venv/bin/python3"
  timeout: "3s"
  strictValidation: true
storage:
  dataPath: "/srv/rasp"
  legacyHistory: "history.json"
auth:
  bcryptCost: 11
logging:
  level: "warn"
`,
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.Port != 8080 {
					t.Errorf("expected Port 8080, got %d", settings.Port)
				}
				if len(settings.AllowedOrigins) != 1 || settings.AllowedOrigins[0] != "http://localhost:3000" {
					t.Errorf("unexpected origins %v", settings.AllowedOrigins)
				}
				if settings.ModelPath != "models/xgb.pkl" {
					t.Errorf("expected ModelPath models/xgb.pkl, got %s", settings.ModelPath)
				}
				if settings.PythonPath != "/opt/venv/bin/python3" {
					t.Errorf("expected PythonPath, got %s", settings.PythonPath)
				}
				if settings.ModelTimeout != 3*time.Second {
					t.Errorf("expected ModelTimeout 3s, got %v", settings.ModelTimeout)
				}
				if !settings.StrictValidation {
					t.Error("expected StrictValidation true")
				}
				if settings.DataPath != "/srv/rasp" {
					t.Errorf("expected DataPath /srv/rasp, got %s", settings.DataPath)
				}
				if settings.LegacyHistoryPath != "history.json" {
					t.Errorf("expected LegacyHistoryPath, got %s", settings.LegacyHistoryPath)
				}
				if settings.BcryptCost != 11 {
					t.Errorf("expected BcryptCost 11, got %d", settings.BcryptCost)
				}
				if settings.LogLevel != "warn" {
					t.Errorf("expected LogLevel warn, got %s", settings.LogLevel)
				}
			},
		},
		{
			name: "YAML with env overrides",
			yamlContent: `
server:
  port: 8080
model:
  path: "models/xgb.pkl"
`,
			envOverrides: map[string]string{
				"PORT":       "9000",
				"MODEL_PATH": "other.pkl",
			},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.Port != 9000 {
					t.Errorf("expected env override Port 9000, got %d", settings.Port)
				}
				if settings.ModelPath != "other.pkl" {
					t.Errorf("expected env override ModelPath, got %s", settings.ModelPath)
				}
				if settings.DataPath != "data" {
					t.Errorf("expected default DataPath, got %s", settings.DataPath)
				}
			},
		},
		{
			name:        "empty file uses defaults",
			yamlContent: ``,
			wantErr:     false,
			validate: func(t *testing.T, settings Settings) {
				if settings.Port != 5000 || settings.ModelBackend != "script" {
					t.Errorf("expected defaults, got %+v", settings)
				}
			},
		},
		{
			name: "invalid timeout",
			yamlContent: `
model:
  timeout: "later"
`,
			wantErr: true,
		},
		{
			name: "timeout out of range",
			yamlContent: `
model:
  timeout: "10m"
`,
			wantErr: true,
		},
		{
			name: "malformed env override",
			yamlContent: `
server:
  port: 8080
`,
			envOverrides: map[string]string{"PORT": "80a"},
			wantErr:      true,
		},
		{
			name:        "invalid YAML",
			yamlContent: `invalid: yaml: content: [`,
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)
			for key, value := range tt.envOverrides {
				t.Setenv(key, value)
			}

			configPath := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.yamlContent), 0o644); err != nil {
				t.Fatalf("failed to write test config file: %v", err)
			}

			settings, err := loadFromYAML(configPath)

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoadFromYAML_MissingFile(t *testing.T) {
	clearTestEnv(t)
	if _, err := loadFromYAML(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad(t *testing.T) {
	t.Run("env when no config file", func(t *testing.T) {
		clearTestEnv(t)
		t.Setenv("PORT", "6000")

		settings, err := Load()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if settings.Port != 6000 {
			t.Errorf("expected Port 6000, got %d", settings.Port)
		}
	})

	t.Run("YAML when config file specified", func(t *testing.T) {
		clearTestEnv(t)
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(configPath, []byte("server:\n  port: 7000\n"), 0o644); err != nil {
			t.Fatalf("failed to write test config file: %v", err)
		}
		t.Setenv("CONFIG_FILE", configPath)

		settings, err := Load()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if settings.Port != 7000 {
			t.Errorf("expected Port 7000, got %d", settings.Port)
		}
	})
}

func TestLoadDotEnv(t *testing.T) {
	clearTestEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("DATA_PATH=/from/dotenv\nLOG_LEVEL=debug\n"), 0o644); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	// Variables already set win over the file.
	t.Setenv("LOG_LEVEL", "error")
	// Values loaded from the file are cleaned up after the test.
	t.Setenv("DATA_PATH", "")
	os.Unsetenv("DATA_PATH")

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("DATA_PATH"); got != "/from/dotenv" {
		t.Errorf("expected DATA_PATH from .env, got %q", got)
	}
	if got := os.Getenv("LOG_LEVEL"); got != "error" {
		t.Errorf("expected LOG_LEVEL to keep its value, got %q", got)
	}

	if err := loadDotEnv(filepath.Join(dir, "absent.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

func TestZerologLevel(t *testing.T) {
	s := Settings{LogLevel: "debug"}
	if s.ZerologLevel().String() != "debug" {
		t.Errorf("expected debug, got %s", s.ZerologLevel())
	}
	s.LogLevel = "nonsense"
	if s.ZerologLevel().String() != "info" {
		t.Errorf("expected info fallback, got %s", s.ZerologLevel())
	}
}

// clearTestEnv clears potentially conflicting environment variables
func clearTestEnv(t *testing.T) {
	envVars := []string{
		"CONFIG_FILE", "PORT", "ALLOWED_ORIGINS", "MODEL_SERVER_PORT", "DATA_PATH",
		"LEGACY_HISTORY", "MODEL_BACKEND", "MODEL_PATH", "MODEL_URL", "PYTHON_PATH",
		"ONNX_LIB_PATH", "MODEL_TIMEOUT", "STRICT_VALIDATION", "BCRYPT_COST", "LOG_LEVEL",
	}

	for _, env := range envVars {
		if val := os.Getenv(env); val != "" {
			t.Setenv(env, "")
		}
	}
}

func TestCheckEnvFormats_NamesEveryBadVariable(t *testing.T) {
	clearTestEnv(t)
	t.Setenv("PORT", "abc")
	t.Setenv("MODEL_TIMEOUT", "5")

	err := checkEnvFormats()
	if err == nil {
		t.Fatal("expected error but got none")
	}
	for _, key := range []string{"PORT", "MODEL_TIMEOUT"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("expected error to mention %s, got %v", key, err)
		}
	}

	clearTestEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("MODEL_TIMEOUT", "750ms")
	if err := checkEnvFormats(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
