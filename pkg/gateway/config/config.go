package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Backend string

const (
	BackendEcho   Backend = "echo"
	BackendOpenAI Backend = "openai"
	BackendGemini Backend = "gemini"
)

type Config struct {
	Addr string

	LogLevel  string
	LogFormat string

	// Runtime backend and the agent every session runs.
	Backend           Backend
	AgentName         string
	AgentInstructions string
	AgentVoice        string
	ConnectTimeout    time.Duration

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	GeminiAPIKey     string
	GeminiModel      string
	GeminiBaseURL    string
	GeminiAPIVersion string

	EchoTurnGap time.Duration

	// Websocket transport.
	WSWriteTimeout    time.Duration
	WSPingInterval    time.Duration
	WSReadTimeout     time.Duration
	WSMaxMessageBytes int64
	AllowedOrigins    map[string]struct{} // empty => same-origin only

	// Inbound audio limits per session; zero disables a limit.
	MaxAudioFPS            int
	MaxAudioBytesPerSecond int64
	InboundBurstSeconds    int

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	MetricsEnabled   bool
	MetricsNamespace string
}

func Defaults() Config {
	return Config{
		Addr:                   ":8080",
		LogLevel:               "info",
		LogFormat:              "text",
		Backend:                BackendEcho,
		AgentName:              "Assistant",
		ConnectTimeout:         10 * time.Second,
		OpenAIModel:            "gpt-realtime",
		GeminiModel:            "gemini-2.5-flash-native-audio-preview-09-2025",
		GeminiAPIVersion:       "v1beta",
		EchoTurnGap:            600 * time.Millisecond,
		WSWriteTimeout:         5 * time.Second,
		WSPingInterval:         20 * time.Second,
		WSMaxMessageBytes:      1 << 20,
		AllowedOrigins:         make(map[string]struct{}),
		MaxAudioFPS:            120,
		MaxAudioBytesPerSecond: 128 * 1024,
		InboundBurstSeconds:    2,
		ReadHeaderTimeout:      10 * time.Second,
		ShutdownGracePeriod:    30 * time.Second,
		MetricsEnabled:         true,
		MetricsNamespace:       "vai_realtime",
	}
}

// LoadFromEnv returns the defaults overridden by VAI_REALTIME_* variables.
func LoadFromEnv() (Config, error) {
	return Load("")
}

// Load applies, in order: defaults, the config file at path (if any), and
// environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Addr = envOr("VAI_REALTIME_ADDR", cfg.Addr)
	cfg.LogLevel = envOr("VAI_REALTIME_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOr("VAI_REALTIME_LOG_FORMAT", cfg.LogFormat)

	cfg.Backend = Backend(strings.ToLower(envOr("VAI_REALTIME_BACKEND", string(cfg.Backend))))
	cfg.AgentName = envOr("VAI_REALTIME_AGENT_NAME", cfg.AgentName)
	cfg.AgentInstructions = envOr("VAI_REALTIME_AGENT_INSTRUCTIONS", cfg.AgentInstructions)
	cfg.AgentVoice = envOr("VAI_REALTIME_AGENT_VOICE", cfg.AgentVoice)
	cfg.ConnectTimeout = envDurationOr("VAI_REALTIME_CONNECT_TIMEOUT", cfg.ConnectTimeout)

	cfg.OpenAIAPIKey = envOr("VAI_REALTIME_OPENAI_API_KEY", envOr("OPENAI_API_KEY", cfg.OpenAIAPIKey))
	cfg.OpenAIModel = envOr("VAI_REALTIME_OPENAI_MODEL", cfg.OpenAIModel)
	cfg.OpenAIBaseURL = envOr("VAI_REALTIME_OPENAI_BASE_URL", cfg.OpenAIBaseURL)

	cfg.GeminiAPIKey = envOr("VAI_REALTIME_GEMINI_API_KEY", envOr("GEMINI_API_KEY", cfg.GeminiAPIKey))
	cfg.GeminiModel = envOr("VAI_REALTIME_GEMINI_MODEL", cfg.GeminiModel)
	cfg.GeminiBaseURL = envOr("VAI_REALTIME_GEMINI_BASE_URL", cfg.GeminiBaseURL)
	cfg.GeminiAPIVersion = envOr("VAI_REALTIME_GEMINI_API_VERSION", cfg.GeminiAPIVersion)

	cfg.EchoTurnGap = envDurationOr("VAI_REALTIME_ECHO_TURN_GAP", cfg.EchoTurnGap)

	cfg.WSWriteTimeout = envDurationOr("VAI_REALTIME_WS_WRITE_TIMEOUT", cfg.WSWriteTimeout)
	cfg.WSPingInterval = envDurationOr("VAI_REALTIME_WS_PING_INTERVAL", cfg.WSPingInterval)
	cfg.WSReadTimeout = envDurationOr("VAI_REALTIME_WS_READ_TIMEOUT", cfg.WSReadTimeout)
	cfg.WSMaxMessageBytes = envInt64Or("VAI_REALTIME_WS_MAX_MESSAGE_BYTES", cfg.WSMaxMessageBytes)
	if origins := splitCSV(os.Getenv("VAI_REALTIME_ALLOWED_ORIGINS")); len(origins) > 0 {
		cfg.AllowedOrigins = make(map[string]struct{}, len(origins))
		for _, origin := range origins {
			cfg.AllowedOrigins[origin] = struct{}{}
		}
	}

	cfg.MaxAudioFPS = envIntOr("VAI_REALTIME_MAX_AUDIO_FPS", cfg.MaxAudioFPS)
	cfg.MaxAudioBytesPerSecond = envInt64Or("VAI_REALTIME_MAX_AUDIO_BPS", cfg.MaxAudioBytesPerSecond)
	cfg.InboundBurstSeconds = envIntOr("VAI_REALTIME_INBOUND_BURST_SECONDS", cfg.InboundBurstSeconds)

	cfg.ReadHeaderTimeout = envDurationOr("VAI_REALTIME_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ShutdownGracePeriod = envDurationOr("VAI_REALTIME_SHUTDOWN_GRACE_PERIOD", cfg.ShutdownGracePeriod)

	cfg.MetricsEnabled = envBoolOr("VAI_REALTIME_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.MetricsNamespace = envOr("VAI_REALTIME_METRICS_NAMESPACE", cfg.MetricsNamespace)
}

func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("VAI_REALTIME_ADDR must not be empty")
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("VAI_REALTIME_LOG_LEVEL must be one of debug|info|warn|error")
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("VAI_REALTIME_LOG_FORMAT must be one of text|json")
	}

	switch cfg.Backend {
	case BackendEcho:
		if cfg.EchoTurnGap <= 0 {
			return fmt.Errorf("VAI_REALTIME_ECHO_TURN_GAP must be > 0")
		}
	case BackendOpenAI:
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return fmt.Errorf("VAI_REALTIME_OPENAI_API_KEY must be set when VAI_REALTIME_BACKEND=openai")
		}
	case BackendGemini:
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return fmt.Errorf("VAI_REALTIME_GEMINI_API_KEY must be set when VAI_REALTIME_BACKEND=gemini")
		}
	default:
		return fmt.Errorf("VAI_REALTIME_BACKEND must be one of echo|openai|gemini")
	}
	if strings.TrimSpace(cfg.AgentName) == "" {
		return fmt.Errorf("VAI_REALTIME_AGENT_NAME must not be empty")
	}
	if cfg.ConnectTimeout < 0 {
		return fmt.Errorf("VAI_REALTIME_CONNECT_TIMEOUT must be >= 0")
	}

	if cfg.WSWriteTimeout <= 0 {
		return fmt.Errorf("VAI_REALTIME_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval < 0 {
		return fmt.Errorf("VAI_REALTIME_WS_PING_INTERVAL must be >= 0")
	}
	if cfg.WSReadTimeout < 0 {
		return fmt.Errorf("VAI_REALTIME_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.WSReadTimeout > 0 && cfg.WSPingInterval > 0 && cfg.WSReadTimeout <= cfg.WSPingInterval {
		return fmt.Errorf("VAI_REALTIME_WS_READ_TIMEOUT must exceed VAI_REALTIME_WS_PING_INTERVAL")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return fmt.Errorf("VAI_REALTIME_WS_MAX_MESSAGE_BYTES must be > 0")
	}

	if cfg.MaxAudioFPS < 0 {
		return fmt.Errorf("VAI_REALTIME_MAX_AUDIO_FPS must be >= 0")
	}
	if cfg.MaxAudioBytesPerSecond < 0 {
		return fmt.Errorf("VAI_REALTIME_MAX_AUDIO_BPS must be >= 0")
	}
	if cfg.InboundBurstSeconds < 0 {
		return fmt.Errorf("VAI_REALTIME_INBOUND_BURST_SECONDS must be >= 0")
	}
	if (cfg.MaxAudioFPS > 0 || cfg.MaxAudioBytesPerSecond > 0) && cfg.InboundBurstSeconds < 1 {
		return fmt.Errorf("VAI_REALTIME_INBOUND_BURST_SECONDS must be >= 1 when inbound audio limits are enabled")
	}

	if cfg.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("VAI_REALTIME_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("VAI_REALTIME_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.MetricsEnabled && strings.TrimSpace(cfg.MetricsNamespace) == "" {
		return fmt.Errorf("VAI_REALTIME_METRICS_NAMESPACE must not be empty when metrics are enabled")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
