package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig carries values that come from the process environment rather
// than the yaml document: secrets, operational toggles, and OTel settings.
type EnvConfig struct {
	ConfigPath   string
	RunOnce      bool
	ClientID     string
	ClientSecret string
	RefreshToken string
	UserAgent    string
	OTel         OTelEnvConfig
}

type OTelEnvConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Protocol    string // "grpc" or "http/protobuf"
	Headers     map[string]string
	Insecure    bool
	SampleRatio float64
}

func LoadEnv() EnvConfig {
	otlpEndpoint := strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_ENDPOINT", ""))

	return EnvConfig{
		ConfigPath:   envString("MULTIFEED_CONFIG", "multifeed.yaml"),
		RunOnce:      envBool("MULTIFEED_RUN_ONCE", false),
		ClientID:     strings.TrimSpace(envString("MULTIFEED_CLIENT_ID", "")),
		ClientSecret: strings.TrimSpace(envString("MULTIFEED_CLIENT_SECRET", "")),
		RefreshToken: strings.TrimSpace(envString("MULTIFEED_REFRESH_TOKEN", "")),
		UserAgent:    strings.TrimSpace(envString("MULTIFEED_USER_AGENT", "")),
		OTel: OTelEnvConfig{
			Enabled:     envBool("OTEL_ENABLED", false),
			ServiceName: strings.TrimSpace(envString("OTEL_SERVICE_NAME", "multifeed")),
			Endpoint:    otlpEndpoint,
			Protocol:    strings.ToLower(strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			Headers:     parseHeaders(envString("OTEL_EXPORTER_OTLP_HEADERS", "")),
			Insecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", defaultInsecure(otlpEndpoint)),
			SampleRatio: clamp01(envFloat("OTEL_TRACES_SAMPLE_RATIO", 1.0)),
		},
	}
}

// Overlay writes env-provided secrets over the document so credentials never
// have to live in the yaml file.
func (e EnvConfig) Overlay(doc *Document) {
	if e.ClientID != "" {
		doc.Reddit.Auth.ClientID = e.ClientID
	}
	if e.ClientSecret != "" {
		doc.Reddit.Auth.ClientSecret = e.ClientSecret
	}
	if e.RefreshToken != "" {
		doc.Reddit.Auth.RefreshToken = e.RefreshToken
	}
	if e.UserAgent != "" {
		doc.Reddit.UserAgent = e.UserAgent
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func parseHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	headers := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key != "" {
			headers[key] = value
		}
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}

func defaultInsecure(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
