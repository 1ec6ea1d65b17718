package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8000"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	MQTTURL               string        `env:"MQTT_URL"`
	MQTTClientID          string        `env:"MQTT_CLIENT_ID" default:"picorelay"`
	MQTTUser              string        `env:"MQTT_USER"`
	MQTTPass              string        `env:"MQTT_PASS"`
	MQTTTLSInsecure       bool          `env:"MQTT_TLS_INSECURE" default:"false"`
	MQTTConnectTimeout    time.Duration `env:"MQTT_CONNECT_TIMEOUT" default:"4s"`
	MQTTReconnectInterval time.Duration `env:"MQTT_RECONNECT_INTERVAL" default:"10s"`
	MQTTStartupWait       time.Duration `env:"MQTT_STARTUP_WAIT" default:"5s"`
	MQTTSubscribeAttempts int           `env:"MQTT_SUBSCRIBE_ATTEMPTS" default:"3"`
	PublishTimeout        time.Duration `env:"MQTT_PUBLISH_TIMEOUT" default:"5s"`

	DisplayTopic string `env:"DISPLAY_TOPIC" default:"display"`
	OLEDTopic    string `env:"OLED_TOPIC" default:"pico/oled"`
	ChannelsFile string `env:"CHANNELS_FILE"`

	BroadcastInterval       time.Duration `env:"BROADCAST_INTERVAL" default:"1s"`
	MaxWebSocketConnections int           `env:"MAX_WEBSOCKET_CONNECTIONS" default:"200"`
	MaxConnectionsPerIP     int           `env:"MAX_CONNECTIONS_PER_IP" default:"20"`
	ConnectionRate          float64       `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst         int           `env:"CONNECTION_BURST" default:"20"`

	PythonBin     string        `env:"PYTHON_BIN" default:"python3"`
	CaptureScript string        `env:"CAPTURE_SCRIPT" default:"../AI/receive.py"`
	AnalyzeScript string        `env:"ANALYZE_SCRIPT" default:"../AI/send_to_openai.py"`
	WorkerDir     string        `env:"WORKER_DIR" default:"."`
	WorkerTimeout time.Duration `env:"WORKER_TIMEOUT" default:"0s"` // 0 = no timeout

	AudioDir     string `env:"AUDIO_DIR" default:"."`
	AudioURLPath string `env:"AUDIO_URL_PATH" default:"/audio/output.wav"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := []struct{ name, value string }{
		{"MQTT_URL", cfg.MQTTURL},
		{"MQTT_CLIENT_ID", cfg.MQTTClientID},
		{"DISPLAY_TOPIC", cfg.DisplayTopic},
		{"OLED_TOPIC", cfg.OLEDTopic},
		{"PYTHON_BIN", cfg.PythonBin},
		{"CAPTURE_SCRIPT", cfg.CaptureScript},
		{"ANALYZE_SCRIPT", cfg.AnalyzeScript},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	u, err := url.Parse(cfg.MQTTURL)
	if err != nil {
		return fmt.Errorf("MQTT_URL must be a valid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
	default:
		return fmt.Errorf("MQTT_URL has unsupported scheme %q", u.Scheme)
	}

	if cfg.MQTTUser == "" && cfg.MQTTPass != "" {
		return errors.New("MQTT_USER is required when MQTT_PASS is set")
	}
	if cfg.AppEnv == "production" && cfg.MQTTTLSInsecure {
		return errors.New("MQTT_TLS_INSECURE is not allowed in production")
	}

	if cfg.BroadcastInterval <= 0 {
		return errors.New("BROADCAST_INTERVAL must be positive")
	}
	if cfg.WorkerTimeout < 0 {
		return errors.New("WORKER_TIMEOUT must not be negative")
	}
	if cfg.MQTTStartupWait < 0 {
		return errors.New("MQTT_STARTUP_WAIT must not be negative")
	}
	if cfg.MQTTSubscribeAttempts < 1 {
		return errors.New("MQTT_SUBSCRIBE_ATTEMPTS must be at least 1")
	}
	if cfg.MaxWebSocketConnections < 1 || cfg.MaxConnectionsPerIP < 1 {
		return errors.New("MAX_WEBSOCKET_CONNECTIONS and MAX_CONNECTIONS_PER_IP must be at least 1")
	}
	if cfg.ConnectionRate <= 0 || cfg.ConnectionBurst < 1 {
		return errors.New("CONNECTION_RATE must be positive and CONNECTION_BURST at least 1")
	}
	if !strings.HasPrefix(cfg.AudioURLPath, "/") {
		return errors.New("AUDIO_URL_PATH must start with /")
	}

	return nil
}
