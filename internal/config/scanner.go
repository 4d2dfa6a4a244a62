package config

import (
	"fmt"
	"strings"
	"time"
)

type ScanLoopConfig struct {
	Interval      time.Duration
	Cooldown      time.Duration
	SubmitTimeout time.Duration
	Material      string
}

type RecognizerConfig struct {
	Kind           string
	OCRURL         string
	ModelURL       string
	ModelThreshold float64
	Timeout        time.Duration
}

type SourceConfig struct {
	Kind string
	Dir  string
}

type CameraConfig struct {
	HTTPHost     string
	SnapshotPath string
	Username     string
	Password     string
}

type APIConfig struct {
	URL   string
	Token string
}

type GeoConfig struct {
	Lat     *float64
	Lng     *float64
	URL     string
	Timeout time.Duration
}

type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
}

type ScannerConfig struct {
	Environment string
	API         APIConfig
	Loop        ScanLoopConfig
	Recognizer  RecognizerConfig
	Source      SourceConfig
	Camera      CameraConfig
	Geo         GeoConfig
	MQTT        MQTTConfig
}

func LoadScanner() (*ScannerConfig, error) {
	v := newViper()

	cfg := &ScannerConfig{
		Environment: v.GetString("APP_ENV"),
		API: APIConfig{
			URL:   strings.TrimRight(v.GetString("SCANNER_API_URL"), "/"),
			Token: v.GetString("SCANNER_API_TOKEN"),
		},
		Loop: ScanLoopConfig{
			Interval:      v.GetDuration("SCANNER_INTERVAL"),
			Cooldown:      v.GetDuration("SCANNER_COOLDOWN"),
			SubmitTimeout: v.GetDuration("SCANNER_SUBMIT_TIMEOUT"),
			Material:      v.GetString("SCANNER_MATERIAL"),
		},
		Recognizer: RecognizerConfig{
			Kind:           strings.ToLower(v.GetString("SCANNER_RECOGNIZER")),
			OCRURL:         v.GetString("SCANNER_OCR_URL"),
			ModelURL:       v.GetString("SCANNER_MODEL_URL"),
			ModelThreshold: v.GetFloat64("SCANNER_MODEL_THRESHOLD"),
			Timeout:        v.GetDuration("SCANNER_RECOGNIZER_TIMEOUT"),
		},
		Source: SourceConfig{
			Kind: strings.ToLower(v.GetString("SCANNER_SOURCE")),
			Dir:  v.GetString("SCANNER_SOURCE_DIR"),
		},
		Camera: CameraConfig{
			HTTPHost:     strings.TrimRight(v.GetString("CAMERA_HTTP_HOST"), "/"),
			SnapshotPath: v.GetString("CAMERA_SNAPSHOT_PATH"),
			Username:     v.GetString("CAMERA_USERNAME"),
			Password:     v.GetString("CAMERA_PASSWORD"),
		},
		Geo: GeoConfig{
			URL:     v.GetString("GEO_URL"),
			Timeout: v.GetDuration("GEO_TIMEOUT"),
		},
		MQTT: MQTTConfig{
			Broker:   v.GetString("MQTT_BROKER"),
			Topic:    v.GetString("MQTT_TOPIC"),
			ClientID: v.GetString("MQTT_CLIENT_ID"),
		},
	}

	if v.IsSet("GEO_LAT") && v.IsSet("GEO_LNG") {
		lat, lng := v.GetFloat64("GEO_LAT"), v.GetFloat64("GEO_LNG")
		cfg.Geo.Lat = &lat
		cfg.Geo.Lng = &lng
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Loop.Interval <= 0 {
		cfg.Loop.Interval = time.Second
	}
	if cfg.Loop.Cooldown <= 0 {
		cfg.Loop.Cooldown = 3 * time.Second
	}
	if cfg.Loop.SubmitTimeout <= 0 {
		cfg.Loop.SubmitTimeout = 10 * time.Second
	}
	if cfg.Recognizer.Kind == "" {
		cfg.Recognizer.Kind = "text"
	}
	if cfg.Recognizer.ModelThreshold <= 0 {
		cfg.Recognizer.ModelThreshold = 0.95
	}
	if cfg.Recognizer.Timeout <= 0 {
		cfg.Recognizer.Timeout = 15 * time.Second
	}
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = "stdin"
	}
	if cfg.Camera.SnapshotPath == "" {
		cfg.Camera.SnapshotPath = "/ISAPI/Streaming/channels/101/picture"
	}
	if cfg.Geo.Timeout <= 0 {
		cfg.Geo.Timeout = 2 * time.Second
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "vin/scanner/events"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "vin-scanner"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate is exported because CLI flags may change the recognizer and source
// after loading.
func (cfg *ScannerConfig) Validate() error {
	if cfg.API.URL == "" {
		return fmt.Errorf("SCANNER_API_URL is required")
	}
	switch cfg.Recognizer.Kind {
	case "text", "barcode":
	case "ocr":
		if cfg.Recognizer.OCRURL == "" {
			return fmt.Errorf("SCANNER_OCR_URL is required for the ocr recognizer")
		}
	case "model":
		if cfg.Recognizer.ModelURL == "" {
			return fmt.Errorf("SCANNER_MODEL_URL is required for the model recognizer")
		}
	default:
		return fmt.Errorf("unknown recognizer %q", cfg.Recognizer.Kind)
	}
	switch cfg.Source.Kind {
	case "stdin":
	case "dir":
		if cfg.Source.Dir == "" {
			return fmt.Errorf("SCANNER_SOURCE_DIR is required for the dir source")
		}
	case "camera":
		if cfg.Camera.HTTPHost == "" {
			return fmt.Errorf("CAMERA_HTTP_HOST is required for the camera source")
		}
	default:
		return fmt.Errorf("unknown source %q", cfg.Source.Kind)
	}
	if cfg.Recognizer.ModelThreshold > 1 {
		return fmt.Errorf("SCANNER_MODEL_THRESHOLD must be within (0, 1]")
	}
	return nil
}
