package harness

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"sigs.k8s.io/yaml"

	"n2kharness/internal/supervisor"
)

// Gateway config keys the harness fills in.
const (
	KeyListeners        = "listeners"
	KeyBrokers          = "brokers"
	keyProto            = "proto"
	keyPort             = "port"
	keyNumThreads       = "num_threads"
	keySocketMaxFails   = "rdkafka.socket.max.fails"
	keySocketKeepalive  = "rdkafka.socket.keepalive.enable"
	keyQueueBufferingMs = "rdkafka.queue.buffering.max.ms"

	// EnvQueueBufferingMs overrides the producer's buffering delay. When it
	// is set the config file leaves the delay alone.
	EnvQueueBufferingMs = "RDKAFKA_QUEUE_BUFFERING_MAX_MS"

	defaultListenerProto   = "http"
	defaultListenerThreads = 2
)

// GatewayConfig is a generated config artifact and the listener the
// readiness probe waits for.
type GatewayConfig struct {
	Values map[string]interface{}
	// Port and Proto of the first listener.
	Port  int
	Proto string
	// Reserved lists the ports allocated for listeners without one.
	Reserved []int
}

// BuildGatewayConfig completes a scenario's gateway section. Every listener
// gets a proto, a thread count and a free port unless it names them; the
// producer is tuned for quick delivery unless env or the scenario says
// otherwise. Scenario values always win.
func BuildGatewayConfig(scenario map[string]interface{}, brokers string, env map[string]string, allocate func() (int, error)) (*GatewayConfig, error) {
	values := map[string]interface{}{
		KeyBrokers:         brokers,
		keySocketMaxFails:  "3",
		keySocketKeepalive: "true",
	}
	for k, v := range scenario {
		if k == KeyListeners {
			continue
		}
		values[k] = v
	}
	if _, set := values[keyQueueBufferingMs]; !set {
		if _, inEnv := supervisor.LookupEnv(env, EnvQueueBufferingMs); !inEnv {
			values[keyQueueBufferingMs] = "0"
		}
	}

	cfg := &GatewayConfig{Values: values}

	var listeners []interface{}
	if raw, ok := scenario[KeyListeners]; ok {
		list, isList := raw.([]interface{})
		if !isList {
			return nil, fmt.Errorf("%s must be a list", KeyListeners)
		}
		listeners = list
	}
	if len(listeners) == 0 {
		listeners = []interface{}{map[string]interface{}{}}
	}

	completed := make([]interface{}, 0, len(listeners))
	for i, raw := range listeners {
		in, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be a map", KeyListeners, i)
		}
		l := map[string]interface{}{
			keyProto:      defaultListenerProto,
			keyNumThreads: defaultListenerThreads,
		}
		for k, v := range in {
			l[k] = v
		}
		if _, ok := l[keyPort]; !ok {
			port, err := allocate()
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", KeyListeners, i, err)
			}
			cfg.Reserved = append(cfg.Reserved, port)
			l[keyPort] = port
		}
		if i == 0 {
			port, err := toPort(l[keyPort])
			if err != nil {
				return nil, fmt.Errorf("%s[0].port: %w", KeyListeners, err)
			}
			cfg.Port = port
			cfg.Proto = fmt.Sprint(l[keyProto])
		}
		completed = append(completed, l)
	}
	values[KeyListeners] = completed
	return cfg, nil
}

func toPort(v interface{}) (int, error) {
	switch p := v.(type) {
	case int:
		return p, nil
	case int64:
		return int(p), nil
	case uint64:
		return int(p), nil
	case float64:
		return int(p), nil
	case string:
		return strconv.Atoi(p)
	default:
		return 0, fmt.Errorf("unsupported port %v", v)
	}
}

// WriteGatewayConfig writes cfg as JSON into dir and returns the path.
func WriteGatewayConfig(dir string, cfg map[string]interface{}) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal gateway config: %w", err)
	}
	data, err = yaml.YAMLToJSON(data)
	if err != nil {
		return "", fmt.Errorf("failed to convert gateway config: %w", err)
	}

	path := filepath.Join(dir, "n2k_config_"+uuid.NewString()+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write gateway config: %w", err)
	}
	return path, nil
}

// portPool hands out free TCP ports and remembers them until released, so
// parallel scenarios never receive the same port.
type portPool struct {
	mu       sync.Mutex
	reserved map[int]string
	logger   TestLogger
}

func newPortPool(logger TestLogger) *portPool {
	return &portPool{reserved: make(map[int]string), logger: logger}
}

// reserve asks the kernel for a free port for instanceID.
func (p *portPool) reserve(instanceID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < 100; i++ {
		ln, err := net.Listen("tcp", ":0")
		if err != nil {
			return 0, fmt.Errorf("failed to find a free port: %w", err)
		}
		port := ln.Addr().(*net.TCPAddr).Port
		ln.Close()

		if owner, taken := p.reserved[port]; taken {
			p.logger.Debug("🔒 Port %d already reserved by instance %s, skipping\n", port, owner)
			continue
		}
		p.reserved[port] = instanceID
		p.logger.Debug("✅ Reserved port %d for instance %s\n", port, instanceID)
		return port, nil
	}
	return 0, fmt.Errorf("no free port found after 100 attempts")
}

// release frees port if instanceID holds it.
func (p *portPool) release(port int, instanceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if owner, ok := p.reserved[port]; ok && owner == instanceID {
		delete(p.reserved, port)
		p.logger.Debug("🔓 Released port %d from instance %s\n", port, instanceID)
	}
}

// sanitizeFileName makes name safe for use in a file name.
func sanitizeFileName(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	sanitized := replacer.Replace(name)
	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
	}
	return sanitized
}
