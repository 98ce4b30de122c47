package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"n2kharness/pkg/logging"

	"gopkg.in/yaml.v3"
)

// Environment variables overriding the file configuration.
const (
	EnvChild          = "N2KH_CHILD"
	EnvBinary         = "N2KH_BINARY"
	EnvBrokers        = "N2KH_BROKERS"
	EnvGatewayBrokers = "N2KH_GATEWAY_BROKERS"
	EnvWorkDir        = "N2KH_WORKDIR"
	EnvDiagnostics    = "N2KH_DIAGNOSTICS"
)

// lookupEnv is replaced in tests.
var lookupEnv = os.LookupEnv

// LoadConfig layers defaults, the YAML file at path (optional) and the
// environment, then validates the result.
func LoadConfig(path string) (HarnessConfig, error) {
	config := GetDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return HarnessConfig{}, fmt.Errorf("config file %s does not exist", path)
			}
			return HarnessConfig{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return HarnessConfig{}, fmt.Errorf("error loading config from %s: %w", path, err)
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", path)
	}

	ApplyEnv(&config)

	if err := config.Validate(); err != nil {
		return HarnessConfig{}, err
	}
	return config, nil
}

// ApplyEnv overrides config fields from N2KH_* variables.
func ApplyEnv(config *HarnessConfig) {
	if v, ok := lookupEnv(EnvChild); ok && v != "" {
		config.Child = v
	}
	if v, ok := lookupEnv(EnvBinary); ok && v != "" {
		config.Binary = v
	}
	if v, ok := lookupEnv(EnvBrokers); ok && v != "" {
		config.Broker.Brokers = splitList(v)
	}
	if v, ok := lookupEnv(EnvGatewayBrokers); ok && v != "" {
		config.GatewayBrokers = v
	}
	if v, ok := lookupEnv(EnvWorkDir); ok && v != "" {
		config.WorkDir = v
	}
	if v, ok := lookupEnv(EnvDiagnostics); ok && v != "" {
		config.DiagnosticsArtifact = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
