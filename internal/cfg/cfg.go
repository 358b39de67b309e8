package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"rasp/internal/common"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Model backend names, kept in sync with the ml package.
const (
	backendScript = "script"
	backendONNX   = "onnx"
	backendRemote = "remote"
)

const defaultModelTimeout = 5 * time.Second

type Settings struct {
	Port            int
	AllowedOrigins  []string
	ModelServerPort int

	DataPath          string
	LegacyHistoryPath string

	ModelBackend     string
	ModelPath        string
	ModelURL         string
	PythonPath       string
	ONNXLibPath      string
	ModelTimeout     time.Duration
	StrictValidation bool

	BcryptCost int
	LogLevel   string
}

type ConfigFile struct {
	Server struct {
		Port            int      `yaml:"port"`
		AllowedOrigins  []string `yaml:"allowedOrigins"`
		ModelServerPort int      `yaml:"modelServerPort"`
	} `yaml:"server"`

	Model struct {
		Backend          string `yaml:"backend"`
		Path             string `yaml:"path"`
		URL              string `yaml:"url"`
		PythonPath       string `yaml:"pythonPath"`
		ONNXLibPath      string `yaml:"onnxLibPath"`
		Timeout          string `yaml:"timeout"`
		StrictValidation bool   `yaml:"strictValidation"`
	} `yaml:"model"`

	Storage struct {
		DataPath      string `yaml:"dataPath"`
		LegacyHistory string `yaml:"legacyHistory"`
	} `yaml:"storage"`

	Auth struct {
		BcryptCost int `yaml:"bcryptCost"`
	} `yaml:"auth"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Load reads settings from the YAML file named by CONFIG_FILE, overlaid with
// environment variables, or from the environment alone. A .env file in the
// working directory is loaded first; it never overrides variables already set.
func Load() (Settings, error) {
	if err := loadDotEnv(common.DefaultDotEnvFile); err != nil {
		return Settings{}, err
	}

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

// checkEnvFormats rejects typed environment variables that are set but do not
// parse, so a typo never falls back to a default.
func checkEnvFormats() error {
	var errs []error
	for _, key := range []string{common.EnvPort, common.EnvModelServerPort, common.EnvBcryptCost} {
		if v := os.Getenv(key); v != "" {
			if _, err := strconv.Atoi(v); err != nil {
				errs = append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
			}
		}
	}
	if v := os.Getenv(common.EnvModelTimeout); v != "" {
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s must be a duration such as 5s, got %q", common.EnvModelTimeout, v))
		}
	}
	if v := os.Getenv(common.EnvStrictValidation); v != "" {
		if _, err := strconv.ParseBool(v); err != nil {
			errs = append(errs, fmt.Errorf("%s must be a boolean, got %q", common.EnvStrictValidation, v))
		}
	}
	return errors.Join(errs...)
}

func loadFromYAML(path string) (Settings, error) {
	if err := checkEnvFormats(); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	timeout := defaultModelTimeout
	if config.Model.Timeout != "" {
		timeout, err = time.ParseDuration(config.Model.Timeout)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid model timeout %q: %w", config.Model.Timeout, err)
		}
	}

	settings := Settings{
		Port:              getIntFromEnvOrConfig(common.EnvPort, config.Server.Port, common.DefaultPort),
		AllowedOrigins:    getListFromEnvOrConfig(common.EnvAllowedOrigins, config.Server.AllowedOrigins),
		ModelServerPort:   getIntFromEnvOrConfig(common.EnvModelServerPort, config.Server.ModelServerPort, 0),
		DataPath:          getEnvOrDefault(common.EnvDataPath, orDefault(config.Storage.DataPath, common.DefaultDataPath)),
		LegacyHistoryPath: getEnvOrDefault(common.EnvLegacyHistory, config.Storage.LegacyHistory),
		ModelBackend:      getEnvOrDefault(common.EnvModelBackend, orDefault(config.Model.Backend, common.DefaultModelBackend)),
		ModelPath:         getEnvOrDefault(common.EnvModelPath, orDefault(config.Model.Path, common.DefaultModelPath)),
		ModelURL:          getEnvOrDefault(common.EnvModelURL, config.Model.URL),
		PythonPath:        getEnvOrDefault(common.EnvPythonPath, config.Model.PythonPath),
		ONNXLibPath:       getEnvOrDefault(common.EnvONNXLibPath, config.Model.ONNXLibPath),
		ModelTimeout:      getDurationOrDefault(common.EnvModelTimeout, timeout),
		StrictValidation:  getBoolOrDefault(common.EnvStrictValidation, config.Model.StrictValidation),
		BcryptCost:        getIntFromEnvOrConfig(common.EnvBcryptCost, config.Auth.BcryptCost, bcrypt.DefaultCost),
		LogLevel:          getEnvOrDefault(common.EnvLogLevel, orDefault(config.Logging.Level, common.DefaultLogLevel)),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	if err := checkEnvFormats(); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	settings := Settings{
		Port:              getIntOrDefault(common.EnvPort, common.DefaultPort),
		AllowedOrigins:    splitOrDefault(os.Getenv(common.EnvAllowedOrigins), nil),
		ModelServerPort:   getIntOrDefault(common.EnvModelServerPort, 0),
		DataPath:          getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		LegacyHistoryPath: os.Getenv(common.EnvLegacyHistory),
		ModelBackend:      getEnvOrDefault(common.EnvModelBackend, common.DefaultModelBackend),
		ModelPath:         getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		ModelURL:          os.Getenv(common.EnvModelURL),
		PythonPath:        os.Getenv(common.EnvPythonPath),
		ONNXLibPath:       os.Getenv(common.EnvONNXLibPath),
		ModelTimeout:      getDurationOrDefault(common.EnvModelTimeout, defaultModelTimeout),
		StrictValidation:  getBoolOrDefault(common.EnvStrictValidation, false),
		BcryptCost:        getIntOrDefault(common.EnvBcryptCost, bcrypt.DefaultCost),
		LogLevel:          getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

// ZerologLevel returns the parsed log level. Settings from Load always parse.
func (s *Settings) ZerologLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getListFromEnvOrConfig(key string, configValue []string) []string {
	if env := os.Getenv(key); env != "" {
		return splitOrDefault(env, nil)
	}
	return configValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.Port < common.MinPort || settings.Port > common.MaxPort {
		return fmt.Errorf("port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.Port)
	}
	if settings.ModelServerPort != 0 {
		if settings.ModelServerPort < common.MinModelServerPort || settings.ModelServerPort > common.MaxModelServerPort {
			return fmt.Errorf("model server port must be 0 or between %d and %d, got %d",
				common.MinModelServerPort, common.MaxModelServerPort, settings.ModelServerPort)
		}
		if settings.ModelServerPort == settings.Port {
			return fmt.Errorf("model server port must differ from the API port %d", settings.Port)
		}
	}

	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}

	switch settings.ModelBackend {
	case backendScript, backendONNX:
		if settings.ModelPath == "" {
			return errors.New(common.ErrMsgModelPathRequired)
		}
	case backendRemote:
		if settings.ModelURL == "" {
			return errors.New(common.ErrMsgModelURLRequired)
		}
	default:
		return fmt.Errorf("model backend must be one of %s, %s, %s, got %q",
			backendScript, backendONNX, backendRemote, settings.ModelBackend)
	}

	if settings.ModelTimeout < 100*time.Millisecond || settings.ModelTimeout > time.Minute {
		return fmt.Errorf("model timeout must be between 100ms and 1m, got %v", settings.ModelTimeout)
	}

	if settings.BcryptCost < bcrypt.MinCost || settings.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, settings.BcryptCost)
	}

	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}

	for _, o := range settings.AllowedOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			return fmt.Errorf("allowed origin %q must be * or start with http:// or https://", o)
		}
	}

	return nil
}
