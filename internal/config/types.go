package config

import (
	"time"

	"n2kharness/internal/broker"
)

// HarnessConfig is the top-level configuration of a harness session.
type HarnessConfig struct {
	// Child is the command line the gateway is started with, e.g.
	// "valgrind --tool=helgrind --xml=yes --xml-file=helgrind.xml ./n2kafka".
	Child string `yaml:"child"`
	// Binary is the gateway executable, appended to Child unless Child
	// already ends with it.
	Binary    string   `yaml:"binary"`
	ExtraArgs []string `yaml:"extra_args,omitempty"`

	// Host the HTTP interactions are sent to.
	Host string `yaml:"host"`
	// GatewayBrokers is the broker list written into the gateway config.
	GatewayBrokers string `yaml:"gateway_brokers"`

	// WorkDir receives generated config artifacts. Empty uses a fresh
	// temporary directory.
	WorkDir       string `yaml:"work_dir,omitempty"`
	KeepArtifacts bool   `yaml:"keep_artifacts,omitempty"`
	// DiagnosticsArtifact overrides the --xml-file= path as the place the
	// merged diagnostics are written.
	DiagnosticsArtifact string `yaml:"diagnostics_artifact,omitempty"`

	Broker   broker.Config `yaml:"broker"`
	Timeouts Timeouts      `yaml:"timeouts"`
}

// Timeouts bounds every blocking wait of the harness.
type Timeouts struct {
	Ready      time.Duration `yaml:"ready"`
	Exit       time.Duration `yaml:"exit"`
	Line       time.Duration `yaml:"line"`
	LogPattern time.Duration `yaml:"log_pattern"`
	Request    time.Duration `yaml:"request"`
	Scenario   time.Duration `yaml:"scenario"`
}
