package config

import (
	_ "embed"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed tuning.yaml
var tuningYAML []byte

type Config struct {
	Detector DetectorConfig
	Database DatabaseConfig
	Web      WebConfig
	Tuning   Tuning
}

type DetectorConfig struct {
	URL string // base URL of the detection/embedding sidecar (default http://localhost:8000)
}

type DatabaseConfig struct {
	Dir string // directory holding the sqlite database (":memory:" for tests)
}

type WebConfig struct {
	Host string
	Port int
}

// Tuning holds the empirical recognition constants. Defaults come from the
// embedded tuning.yaml; individual values can be overridden via environment.
type Tuning struct {
	DefaultThreshold float64 `yaml:"default_threshold"`
	FarThreshold     float64 `yaml:"far_threshold"`
	FarFaceWidthPx   float64 `yaml:"far_face_width_px"`
	MinFaceWidthPx   float64 `yaml:"min_face_width_px"`
	MaxFacesPerFrame int     `yaml:"max_faces_per_frame"`
	DedupWindowMs    int     `yaml:"dedup_window_ms"`
	FrameTimeoutMs   int     `yaml:"frame_timeout_ms"`
	PadNearFraction  float64 `yaml:"pad_near_fraction"`
	PadFarFraction   float64 `yaml:"pad_far_fraction"`
	PadNearWidthPx   float64 `yaml:"pad_near_width_px"`
}

// DedupWindow returns the minimum interval between repeated recognition
// events for the same identity within one session.
func (t Tuning) DedupWindow() time.Duration {
	return time.Duration(t.DedupWindowMs) * time.Millisecond
}

// FrameTimeout bounds a single detector or embedder call.
func (t Tuning) FrameTimeout() time.Duration {
	return time.Duration(t.FrameTimeoutMs) * time.Millisecond
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// DefaultTuning parses the embedded tuning defaults.
func DefaultTuning() Tuning {
	var t Tuning
	if err := yaml.Unmarshal(tuningYAML, &t); err != nil {
		// The file is embedded at compile time, so this cannot happen with a
		// healthy binary.
		panic("failed to unmarshal embedded tuning.yaml: " + err.Error())
	}
	return t
}

func Load() *Config {
	tuning := DefaultTuning()
	tuning.DefaultThreshold = envFloat("ROLLCALL_DEFAULT_THRESHOLD", tuning.DefaultThreshold)
	tuning.FarThreshold = envFloat("ROLLCALL_FAR_THRESHOLD", tuning.FarThreshold)
	tuning.FarFaceWidthPx = envFloat("ROLLCALL_FAR_FACE_WIDTH_PX", tuning.FarFaceWidthPx)
	tuning.MinFaceWidthPx = envFloat("ROLLCALL_MIN_FACE_WIDTH_PX", tuning.MinFaceWidthPx)
	tuning.MaxFacesPerFrame = envInt("ROLLCALL_MAX_FACES_PER_FRAME", tuning.MaxFacesPerFrame)
	tuning.DedupWindowMs = envInt("ROLLCALL_DEDUP_WINDOW_MS", tuning.DedupWindowMs)
	tuning.FrameTimeoutMs = envInt("ROLLCALL_FRAME_TIMEOUT_MS", tuning.FrameTimeoutMs)

	return &Config{
		Detector: DetectorConfig{
			URL: envString("DETECTOR_URL", "http://localhost:8000"),
		},
		Database: DatabaseConfig{
			Dir: envString("ROLLCALL_DATA_DIR", "data"),
		},
		Web: WebConfig{
			Host: envString("WEB_HOST", "0.0.0.0"),
			Port: envInt("WEB_PORT", 8080),
		},
		Tuning: tuning,
	}
}
