package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Frame source
	SourceURI             string
	SourceID              string
	CaptureReadTimeout    time.Duration
	ReconnectMaxRetries   int
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration

	// Detector
	ModelBackend        string // fake | dnn
	ModelPath           string
	ModelConfigPath     string
	ModelName           string
	ModelVersion        string
	ModelClasses        []string
	ConfidenceThreshold float64
	NMSThreshold        float64
	Device              string  // cpu | cuda | opencl | vulkan
	FakeDefectRate      float64 // fake backend only
	FakeSeed            int64
	FakeBatch           int
	FakeLatency         time.Duration

	// Preprocessing
	TargetWidth          int
	TargetHeight         int
	Interpolation        string
	ColorConversion      string
	Normalization        string
	NormMean             []float64
	NormStd              []float64
	TensorLayout         string
	PreprocessTransforms []string

	// Persistence
	StorageRoot     string
	DBPath          string
	ImageFormat     string // jpg | png
	LogQueueDepth   int
	LogWriteRetries int
	LogRetryDelay   time.Duration
	FlushTimeout    time.Duration

	// Orchestration
	AbandonStale    bool
	PollWait        time.Duration
	EventBuffer     int
	MotionThreshold int // changed pixels needed to process a frame, 0 disables

	// Dashboard API
	Port     int
	APIToken string

	// Logging
	LogDirectory string
	Debug        bool

	// Event sinks
	MQTTBroker     string
	MQTTTopic      string
	MQTTClientID   string
	TelegramToken  string
	TelegramChatID int64
}

// fileOverlay is the optional YAML file named by CONFIG_FILE. Only list-shaped
// settings that are awkward in env vars live here.
type fileOverlay struct {
	Model struct {
		Name    string   `yaml:"name"`
		Version string   `yaml:"version"`
		Classes []string `yaml:"classes"`
	} `yaml:"model"`
	Preprocess struct {
		Transforms []string  `yaml:"transforms"`
		Mean       []float64 `yaml:"mean"`
		Std        []float64 `yaml:"std"`
	} `yaml:"preprocess"`
}

// Load reads .env (if present), the environment and the optional YAML overlay.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{
		SourceURI:             getEnv("SOURCE_URI", "synthetic://640x480?fps=15"),
		SourceID:              getEnv("SOURCE_ID", "cam0"),
		CaptureReadTimeout:    getEnvAsDuration("CAPTURE_READ_TIMEOUT", 2*time.Second),
		ReconnectMaxRetries:   getEnvAsInt("RECONNECT_MAX_RETRIES", 5),
		ReconnectInitialDelay: getEnvAsDuration("RECONNECT_INITIAL_DELAY", time.Second),
		ReconnectMaxDelay:     getEnvAsDuration("RECONNECT_MAX_DELAY", 30*time.Second),

		ModelBackend:        getEnv("MODEL_BACKEND", "fake"),
		ModelPath:           getEnv("MODEL_PATH", filepath.Join(".", "models", "frozen_inference_graph.pb")),
		ModelConfigPath:     getEnv("MODEL_CONFIG_PATH", filepath.Join(".", "models", "ssd_mobilenet.pbtxt")),
		ModelName:           getEnv("MODEL_NAME", "defect-ssd"),
		ModelVersion:        getEnv("MODEL_VERSION", "1"),
		ModelClasses:        getEnvAsList("MODEL_CLASSES", []string{"scratch", "dent", "crack", "stain"}),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.5),
		NMSThreshold:        getEnvAsFloat("NMS_THRESHOLD", 0.45),
		Device:              getEnv("DEVICE", "cpu"),
		FakeDefectRate:      getEnvAsFloat("FAKE_DEFECT_RATE", 0.25),
		FakeSeed:            getEnvAsInt64("FAKE_SEED", 1),
		FakeBatch:           getEnvAsInt("FAKE_BATCH", 20),
		FakeLatency:         getEnvAsDuration("FAKE_LATENCY", 0),

		TargetWidth:          getEnvAsInt("TARGET_WIDTH", 300),
		TargetHeight:         getEnvAsInt("TARGET_HEIGHT", 300),
		Interpolation:        getEnv("INTERPOLATION", "bilinear"),
		ColorConversion:      getEnv("COLOR_CONVERSION", "bgr2rgb"),
		Normalization:        getEnv("NORMALIZATION", "unit"),
		NormMean:             getEnvAsFloatList("NORM_MEAN", []float64{0.485, 0.456, 0.406}),
		NormStd:              getEnvAsFloatList("NORM_STD", []float64{0.229, 0.224, 0.225}),
		TensorLayout:         getEnv("TENSOR_LAYOUT", "HWC"),
		PreprocessTransforms: getEnvAsList("PREPROCESS_TRANSFORMS", nil),

		StorageRoot:     getEnv("STORAGE_ROOT", filepath.Join(".", "images")),
		DBPath:          getEnv("DB_PATH", filepath.Join(".", "data", "detections.db")),
		ImageFormat:     getEnv("IMAGE_FORMAT", "jpg"),
		LogQueueDepth:   getEnvAsInt("LOG_QUEUE_DEPTH", 64),
		LogWriteRetries: getEnvAsInt("LOG_WRITE_RETRIES", 2),
		LogRetryDelay:   getEnvAsDuration("LOG_RETRY_DELAY", 50*time.Millisecond),
		FlushTimeout:    getEnvAsDuration("FLUSH_TIMEOUT", 5*time.Second),

		AbandonStale: getEnvAsBool("ABANDON_STALE", true),
		PollWait:     getEnvAsDuration("POLL_WAIT", 100*time.Millisecond),
		EventBuffer:  getEnvAsInt("EVENT_BUFFER", 256),

		MotionThreshold: getEnvAsInt("MOTION_THRESHOLD", 0),

		Port:     getEnvAsInt("PORT", 8080),
		APIToken: getEnv("API_TOKEN", ""),

		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),
		Debug:        getEnvAsBool("DEBUG", false),

		MQTTBroker:     getEnv("MQTT_BROKER", ""),
		MQTTTopic:      getEnv("MQTT_TOPIC", "inspector/events"),
		MQTTClientID:   getEnv("MQTT_CLIENT_ID", "inspector"),
		TelegramToken:  getEnv("TELEGRAM_TOKEN", ""),
		TelegramChatID: getEnvAsInt64("TELEGRAM_CHAT_ID", 0),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if overlay.Model.Name != "" {
		c.ModelName = overlay.Model.Name
	}
	if overlay.Model.Version != "" {
		c.ModelVersion = overlay.Model.Version
	}
	if len(overlay.Model.Classes) > 0 {
		c.ModelClasses = overlay.Model.Classes
	}
	if len(overlay.Preprocess.Transforms) > 0 {
		c.PreprocessTransforms = overlay.Preprocess.Transforms
	}
	if len(overlay.Preprocess.Mean) > 0 {
		c.NormMean = overlay.Preprocess.Mean
	}
	if len(overlay.Preprocess.Std) > 0 {
		c.NormStd = overlay.Preprocess.Std
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1:
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0,1], got %v", c.ConfidenceThreshold)
	case c.NMSThreshold < 0 || c.NMSThreshold > 1:
		return fmt.Errorf("NMS_THRESHOLD must be within [0,1], got %v", c.NMSThreshold)
	case c.FakeDefectRate < 0 || c.FakeDefectRate > 1:
		return fmt.Errorf("FAKE_DEFECT_RATE must be within [0,1], got %v", c.FakeDefectRate)
	case c.TargetWidth <= 0 || c.TargetHeight <= 0:
		return fmt.Errorf("target size must be positive, got %dx%d", c.TargetWidth, c.TargetHeight)
	case len(c.NormMean) != 3 || len(c.NormStd) != 3:
		return fmt.Errorf("NORM_MEAN and NORM_STD need 3 values each")
	case c.LogQueueDepth <= 0:
		return fmt.Errorf("LOG_QUEUE_DEPTH must be positive, got %d", c.LogQueueDepth)
	case c.LogWriteRetries < 0:
		return fmt.Errorf("LOG_WRITE_RETRIES must not be negative")
	case c.MotionThreshold < 0:
		return fmt.Errorf("MOTION_THRESHOLD must not be negative")
	case len(c.ModelClasses) == 0:
		return fmt.Errorf("MODEL_CLASSES must not be empty")
	}

	for _, s := range c.NormStd {
		if s == 0 {
			return fmt.Errorf("NORM_STD values must be non-zero")
		}
	}

	switch c.ImageFormat {
	case "jpg", "png":
	default:
		return fmt.Errorf("IMAGE_FORMAT must be jpg or png, got %q", c.ImageFormat)
	}

	switch c.ModelBackend {
	case "fake", "dnn":
	default:
		return fmt.Errorf("MODEL_BACKEND must be fake or dnn, got %q", c.ModelBackend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvAsFloatList(key string, defaultValue []float64) []float64 {
	items := getEnvAsList(key, nil)
	if len(items) == 0 {
		return defaultValue
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		f, err := strconv.ParseFloat(item, 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, f)
	}
	return out
}
