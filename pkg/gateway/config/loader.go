package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	yaml "go.yaml.in/yaml/v2"
)

// fileConfig is the on-disk shape. Empty values leave the current setting
// untouched; durations use time.ParseDuration syntax.
type fileConfig struct {
	Addr      string `toml:"addr" yaml:"addr" json:"addr"`
	LogLevel  string `toml:"log_level" yaml:"log_level" json:"log_level"`
	LogFormat string `toml:"log_format" yaml:"log_format" json:"log_format"`

	Backend           string `toml:"backend" yaml:"backend" json:"backend"`
	AgentName         string `toml:"agent_name" yaml:"agent_name" json:"agent_name"`
	AgentInstructions string `toml:"agent_instructions" yaml:"agent_instructions" json:"agent_instructions"`
	AgentVoice        string `toml:"agent_voice" yaml:"agent_voice" json:"agent_voice"`
	ConnectTimeout    string `toml:"connect_timeout" yaml:"connect_timeout" json:"connect_timeout"`

	OpenAIAPIKey  string `toml:"openai_api_key" yaml:"openai_api_key" json:"openai_api_key"`
	OpenAIModel   string `toml:"openai_model" yaml:"openai_model" json:"openai_model"`
	OpenAIBaseURL string `toml:"openai_base_url" yaml:"openai_base_url" json:"openai_base_url"`

	GeminiAPIKey     string `toml:"gemini_api_key" yaml:"gemini_api_key" json:"gemini_api_key"`
	GeminiModel      string `toml:"gemini_model" yaml:"gemini_model" json:"gemini_model"`
	GeminiBaseURL    string `toml:"gemini_base_url" yaml:"gemini_base_url" json:"gemini_base_url"`
	GeminiAPIVersion string `toml:"gemini_api_version" yaml:"gemini_api_version" json:"gemini_api_version"`

	EchoTurnGap string `toml:"echo_turn_gap" yaml:"echo_turn_gap" json:"echo_turn_gap"`

	WSWriteTimeout    string   `toml:"ws_write_timeout" yaml:"ws_write_timeout" json:"ws_write_timeout"`
	WSPingInterval    string   `toml:"ws_ping_interval" yaml:"ws_ping_interval" json:"ws_ping_interval"`
	WSReadTimeout     string   `toml:"ws_read_timeout" yaml:"ws_read_timeout" json:"ws_read_timeout"`
	WSMaxMessageBytes int64    `toml:"ws_max_message_bytes" yaml:"ws_max_message_bytes" json:"ws_max_message_bytes"`
	AllowedOrigins    []string `toml:"allowed_origins" yaml:"allowed_origins" json:"allowed_origins"`

	MaxAudioFPS            *int   `toml:"max_audio_fps" yaml:"max_audio_fps" json:"max_audio_fps"`
	MaxAudioBytesPerSecond *int64 `toml:"max_audio_bps" yaml:"max_audio_bps" json:"max_audio_bps"`
	InboundBurstSeconds    *int   `toml:"inbound_burst_seconds" yaml:"inbound_burst_seconds" json:"inbound_burst_seconds"`

	ReadHeaderTimeout   string `toml:"read_header_timeout" yaml:"read_header_timeout" json:"read_header_timeout"`
	ShutdownGracePeriod string `toml:"shutdown_grace_period" yaml:"shutdown_grace_period" json:"shutdown_grace_period"`

	MetricsEnabled   *bool  `toml:"metrics_enabled" yaml:"metrics_enabled" json:"metrics_enabled"`
	MetricsNamespace string `toml:"metrics_namespace" yaml:"metrics_namespace" json:"metrics_namespace"`
}

// LoadFile overlays the TOML, YAML or JSON file at path onto cfg. The format
// is chosen by extension.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var raw fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil {
			return fmt.Errorf("parse toml config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.UnmarshalStrict(data, &raw); err != nil {
			return fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("parse json config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format: %q", ext)
	}
	return raw.apply(cfg)
}

func (raw fileConfig) apply(cfg *Config) error {
	setString(&cfg.Addr, raw.Addr)
	setString(&cfg.LogLevel, raw.LogLevel)
	setString(&cfg.LogFormat, raw.LogFormat)

	if b := strings.TrimSpace(raw.Backend); b != "" {
		cfg.Backend = Backend(strings.ToLower(b))
	}
	setString(&cfg.AgentName, raw.AgentName)
	setString(&cfg.AgentInstructions, raw.AgentInstructions)
	setString(&cfg.AgentVoice, raw.AgentVoice)

	setString(&cfg.OpenAIAPIKey, raw.OpenAIAPIKey)
	setString(&cfg.OpenAIModel, raw.OpenAIModel)
	setString(&cfg.OpenAIBaseURL, raw.OpenAIBaseURL)

	setString(&cfg.GeminiAPIKey, raw.GeminiAPIKey)
	setString(&cfg.GeminiModel, raw.GeminiModel)
	setString(&cfg.GeminiBaseURL, raw.GeminiBaseURL)
	setString(&cfg.GeminiAPIVersion, raw.GeminiAPIVersion)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"echo_turn_gap", raw.EchoTurnGap, &cfg.EchoTurnGap},
		{"ws_write_timeout", raw.WSWriteTimeout, &cfg.WSWriteTimeout},
		{"ws_ping_interval", raw.WSPingInterval, &cfg.WSPingInterval},
		{"ws_read_timeout", raw.WSReadTimeout, &cfg.WSReadTimeout},
		{"read_header_timeout", raw.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"shutdown_grace_period", raw.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
	}
	for _, d := range durations {
		v := strings.TrimSpace(d.raw)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if raw.WSMaxMessageBytes != 0 {
		cfg.WSMaxMessageBytes = raw.WSMaxMessageBytes
	}
	if len(raw.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = make(map[string]struct{}, len(raw.AllowedOrigins))
		for _, origin := range raw.AllowedOrigins {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins[origin] = struct{}{}
			}
		}
	}

	if raw.MaxAudioFPS != nil {
		cfg.MaxAudioFPS = *raw.MaxAudioFPS
	}
	if raw.MaxAudioBytesPerSecond != nil {
		cfg.MaxAudioBytesPerSecond = *raw.MaxAudioBytesPerSecond
	}
	if raw.InboundBurstSeconds != nil {
		cfg.InboundBurstSeconds = *raw.InboundBurstSeconds
	}
	if raw.MetricsEnabled != nil {
		cfg.MetricsEnabled = *raw.MetricsEnabled
	}
	setString(&cfg.MetricsNamespace, raw.MetricsNamespace)
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
