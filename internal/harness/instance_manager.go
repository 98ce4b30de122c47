package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"n2kharness/internal/config"
	"n2kharness/internal/diagnostics"
	"n2kharness/internal/supervisor"
)

// gatewayProcess is a running gateway as seen by the manager.
type gatewayProcess interface {
	LogSource
	Stop() error
}

// launchFunc starts a gateway and waits for its readiness probe.
type launchFunc func(ctx context.Context, opts supervisor.Options) (gatewayProcess, error)

// gatewayInstanceManager implements the GatewayInstanceManager interface
type gatewayInstanceManager struct {
	cfg     config.HarnessConfig
	command []string
	tempDir string
	// ownsTempDir is set when tempDir was created by the manager.
	ownsTempDir bool
	collector   *diagnostics.Collector
	launch      launchFunc
	ports       *portPool
	logger      TestLogger

	mu        sync.Mutex
	instances map[string]*GatewayInstance
}

// NewGatewayInstanceManager creates a manager launching cfg.Child. A child
// command carrying --xml-file= runs under a diagnostics collector whose
// merged report is written by Flush.
func NewGatewayInstanceManager(cfg config.HarnessConfig, logger TestLogger) (GatewayInstanceManager, error) {
	command, err := supervisor.SplitCommand(cfg.Child)
	if err != nil {
		return nil, err
	}

	m := &gatewayInstanceManager{
		cfg:       cfg,
		command:   command,
		tempDir:   cfg.WorkDir,
		ports:     newPortPool(logger),
		logger:    logger,
		instances: make(map[string]*GatewayInstance),
	}

	if m.tempDir == "" {
		m.tempDir, err = os.MkdirTemp("", "n2kharness-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp directory: %w", err)
		}
		m.ownsTempDir = true
	} else if err := os.MkdirAll(m.tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	if diagnostics.HasXMLFileArg(command) {
		opts := []diagnostics.Option{diagnostics.WithParseTimeout(cfg.Timeouts.Exit)}
		if cfg.DiagnosticsArtifact != "" {
			opts = append(opts, diagnostics.WithArtifactPath(cfg.DiagnosticsArtifact))
		}
		m.collector = diagnostics.NewCollector(opts...)
		m.launch = func(ctx context.Context, opts supervisor.Options) (gatewayProcess, error) {
			run, err := m.collector.Launch(ctx, opts)
			if err != nil {
				return nil, err
			}
			return run, nil
		}
	} else {
		m.launch = func(ctx context.Context, opts supervisor.Options) (gatewayProcess, error) {
			child, err := supervisor.Start(ctx, opts)
			if err != nil {
				return nil, err
			}
			return child, nil
		}
	}
	return m, nil
}

// CreateInstance writes the scenario's config artifact and starts a gateway
// on it. The listener_port variable is set before the gateway starts.
func (m *gatewayInstanceManager) CreateInstance(ctx context.Context, scenario TestScenario, vars *templateProcessor, journal *logJournal) (*GatewayInstance, error) {
	instanceID := fmt.Sprintf("test-%s-%d", sanitizeFileName(scenario.Name), time.Now().UnixNano())

	gateway, err := vars.RenderValue(scenario.Gateway)
	if err != nil {
		return nil, fmt.Errorf("rendering gateway config: %w", err)
	}
	gatewayMap, _ := gateway.(map[string]interface{})

	env := make(map[string]string, len(scenario.Env))
	for k, v := range scenario.Env {
		if env[k], err = vars.Render(v); err != nil {
			return nil, fmt.Errorf("rendering env %s: %w", k, err)
		}
	}
	args, err := vars.renderAll(scenario.Args)
	if err != nil {
		return nil, fmt.Errorf("rendering args: %w", err)
	}

	gc, err := BuildGatewayConfig(gatewayMap, m.cfg.GatewayBrokers, env, func() (int, error) {
		return m.ports.reserve(instanceID)
	})
	if err != nil {
		return nil, fmt.Errorf("building gateway config: %w", err)
	}
	releasePorts := func() {
		for _, p := range gc.Reserved {
			m.ports.release(p, instanceID)
		}
	}
	vars.Set(VarListenerPort, gc.Port)

	configFile, err := WriteGatewayConfig(m.tempDir, gc.Values)
	if err != nil {
		releasePorts()
		return nil, err
	}
	if m.logger.IsDebugEnabled() {
		if content, err := os.ReadFile(configFile); err == nil {
			m.logger.Debug("📝 Generated config file: %s\n📄 Content:\n%s\n", configFile, string(content))
		}
	}

	extra := append(append([]string(nil), m.cfg.ExtraArgs...), args...)
	opts := supervisor.Options{
		Argv: supervisor.BuildArgv(m.command, m.cfg.Binary, extra, configFile),
		Env:  env,
		Probe: journal.Probe(supervisor.ListenerProbe{
			Proto: strings.ToUpper(gc.Proto),
			Port:  gc.Port,
		}),
		ReadyTimeout: m.cfg.Timeouts.Ready,
		ExitTimeout:  m.cfg.Timeouts.Exit,
		LineTimeout:  m.cfg.Timeouts.Line,
	}

	m.logger.Debug("🚀 Starting gateway %s: %s\n", instanceID, strings.Join(opts.Argv, " "))
	proc, err := m.launch(ctx, opts)
	if err != nil {
		releasePorts()
		m.removeArtifact(configFile)
		return nil, fmt.Errorf("failed to start gateway: %w", err)
	}

	instance := &GatewayInstance{
		ID:         instanceID,
		Port:       gc.Port,
		Proto:      gc.Proto,
		ConfigFile: configFile,
		Config:     gc.Values,
		Logs:       proc,
		StartTime:  time.Now(),
	}
	instance.stop = func() error {
		err := proc.Stop()
		releasePorts()
		m.removeArtifact(configFile)
		return err
	}

	m.mu.Lock()
	m.instances[instanceID] = instance
	m.mu.Unlock()

	m.logger.Debug("✅ Gateway %s listening on %s port %d\n", instanceID, gc.Proto, gc.Port)
	return instance, nil
}

// DestroyInstance stops the gateway. Stopping twice is harmless.
func (m *gatewayInstanceManager) DestroyInstance(instance *GatewayInstance) error {
	m.mu.Lock()
	_, exists := m.instances[instance.ID]
	delete(m.instances, instance.ID)
	m.mu.Unlock()

	if !exists || instance.stop == nil {
		return nil
	}
	m.logger.Debug("🛑 Stopping gateway %s\n", instance.ID)
	if err := instance.stop(); err != nil {
		return fmt.Errorf("stopping gateway %s: %w", instance.ID, err)
	}
	return nil
}

func (m *gatewayInstanceManager) removeArtifact(path string) {
	if m.cfg.KeepArtifacts {
		m.logger.Debug("🔍 Keeping config artifact %s\n", path)
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Debug("⚠️  Failed to remove config artifact %s: %v\n", path, err)
	}
}

// Flush writes the merged diagnostics and returns the number of distinct
// findings. Without a diagnostics tool it does nothing.
func (m *gatewayInstanceManager) Flush() (int, error) {
	if m.collector == nil {
		return 0, nil
	}
	findings := len(m.collector.Set().Findings())
	if err := m.collector.Flush(); err != nil {
		return findings, fmt.Errorf("writing diagnostics: %w", err)
	}
	return findings, nil
}

// Cleanup stops every gateway still running and removes the temp directory.
func (m *gatewayInstanceManager) Cleanup() error {
	m.mu.Lock()
	remaining := make([]*GatewayInstance, 0, len(m.instances))
	for _, inst := range m.instances {
		remaining = append(remaining, inst)
	}
	m.mu.Unlock()

	var errs []error
	for _, inst := range remaining {
		if err := m.DestroyInstance(inst); err != nil {
			errs = append(errs, err)
		}
	}

	if m.ownsTempDir && !m.cfg.KeepArtifacts {
		if err := os.RemoveAll(m.tempDir); err != nil {
			errs = append(errs, err)
		}
	} else if m.cfg.KeepArtifacts {
		m.logger.Debug("🔍 Keeping work directory %s\n", m.tempDir)
	}
	return errors.Join(errs...)
}
