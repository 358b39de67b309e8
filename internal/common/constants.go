package common

// Environment variable keys
const (
	EnvConfigFile       = "CONFIG_FILE"
	EnvPort             = "PORT"
	EnvAllowedOrigins   = "ALLOWED_ORIGINS"
	EnvModelServerPort  = "MODEL_SERVER_PORT"
	EnvDataPath         = "DATA_PATH"
	EnvLegacyHistory    = "LEGACY_HISTORY"
	EnvModelBackend     = "MODEL_BACKEND"
	EnvModelPath        = "MODEL_PATH"
	EnvModelURL         = "MODEL_URL"
	EnvPythonPath       = "PYTHON_PATH"
	EnvONNXLibPath      = "ONNX_LIB_PATH"
	EnvModelTimeout     = "MODEL_TIMEOUT"
	EnvStrictValidation = "STRICT_VALIDATION"
	EnvBcryptCost       = "BCRYPT_COST"
	EnvLogLevel         = "LOG_LEVEL"
)

// Configuration defaults
const (
	DefaultPort         = 5000
	DefaultDataPath     = "data"
	DefaultModelBackend = "script"
	DefaultModelPath    = "xgb_accident_severity_model.pkl"
	DefaultLogLevel     = "info"
	DefaultDotEnvFile   = ".env"
)

// Validation constants
const (
	MinPort = 1
	MaxPort = 65535

	MinModelServerPort = 1024
	MaxModelServerPort = 65535
)

// Common error messages
const (
	ErrMsgModelURLRequired  = "remote model backend requires MODEL_URL"
	ErrMsgModelPathRequired = "model path is required for the script and onnx backends"
)
