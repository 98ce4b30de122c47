package harness

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedPorts(ports ...int) func() (int, error) {
	return func() (int, error) {
		p := ports[0]
		ports = ports[1:]
		return p, nil
	}
}

func TestBuildGatewayConfig_Defaults(t *testing.T) {
	if _, set := os.LookupEnv(EnvQueueBufferingMs); set {
		t.Skip(EnvQueueBufferingMs + " is set in the environment")
	}

	cfg, err := BuildGatewayConfig(nil, "kafka", nil, fixedPorts(2057))
	require.NoError(t, err)

	assert.Equal(t, 2057, cfg.Port)
	assert.Equal(t, "http", cfg.Proto)
	assert.Equal(t, []int{2057}, cfg.Reserved)
	assert.Equal(t, "kafka", cfg.Values[KeyBrokers])
	assert.Equal(t, "3", cfg.Values["rdkafka.socket.max.fails"])
	assert.Equal(t, "true", cfg.Values["rdkafka.socket.keepalive.enable"])
	assert.Equal(t, "0", cfg.Values["rdkafka.queue.buffering.max.ms"])

	listeners := cfg.Values[KeyListeners].([]interface{})
	require.Len(t, listeners, 1)
	assert.Equal(t, map[string]interface{}{"proto": "http", "num_threads": 2, "port": 2057}, listeners[0])
}

func TestBuildGatewayConfig_ScenarioWins(t *testing.T) {
	scenario := map[string]interface{}{
		"brokers":                        "other:9092",
		"rdkafka.statistics.interval.ms": "100",
		"listeners": []interface{}{
			map[string]interface{}{"proto": "https", "decode_as": "zz_http2k", "port": 8443},
			map[string]interface{}{"decode_as": "meraki"},
		},
	}

	cfg, err := BuildGatewayConfig(scenario, "kafka", map[string]string{}, fixedPorts(3001))
	require.NoError(t, err)

	assert.Equal(t, "other:9092", cfg.Values[KeyBrokers])
	assert.Equal(t, "100", cfg.Values["rdkafka.statistics.interval.ms"])
	assert.Equal(t, 8443, cfg.Port)
	assert.Equal(t, "https", cfg.Proto)
	assert.Equal(t, []int{3001}, cfg.Reserved, "only listeners without a port get one")

	listeners := cfg.Values[KeyListeners].([]interface{})
	require.Len(t, listeners, 2)
	second := listeners[1].(map[string]interface{})
	assert.Equal(t, 3001, second["port"])
	assert.Equal(t, "http", second["proto"])
	assert.Equal(t, "meraki", second["decode_as"])

	assert.NotContains(t, scenario["listeners"].([]interface{})[1], "port", "the scenario map is not modified")
}

func TestBuildGatewayConfig_BufferingFromEnv(t *testing.T) {
	cfg, err := BuildGatewayConfig(nil, "kafka", map[string]string{EnvQueueBufferingMs: "100"}, fixedPorts(1))
	require.NoError(t, err)
	assert.NotContains(t, cfg.Values, "rdkafka.queue.buffering.max.ms")

	cfg, err = BuildGatewayConfig(map[string]interface{}{"rdkafka.queue.buffering.max.ms": "50"}, "kafka", nil, fixedPorts(1))
	require.NoError(t, err)
	assert.Equal(t, "50", cfg.Values["rdkafka.queue.buffering.max.ms"])
}

func TestBuildGatewayConfig_InvalidListeners(t *testing.T) {
	_, err := BuildGatewayConfig(map[string]interface{}{"listeners": "http"}, "kafka", nil, fixedPorts(1))
	assert.Error(t, err)

	_, err = BuildGatewayConfig(map[string]interface{}{"listeners": []interface{}{"http"}}, "kafka", nil, fixedPorts(1))
	assert.Error(t, err)
}

func TestWriteGatewayConfig(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteGatewayConfig(dir, map[string]interface{}{
		"brokers":   "kafka",
		"listeners": []interface{}{map[string]interface{}{"proto": "http", "port": 2057}},
	})
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "n2k_config_"))
	assert.True(t, strings.HasSuffix(path, ".json"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "kafka", decoded["brokers"])
	assert.Equal(t, float64(2057), decoded["listeners"].([]interface{})[0].(map[string]interface{})["port"])
}

func TestPortPool(t *testing.T) {
	pool := newPortPool(NewSilentLogger(false, false))

	a, err := pool.reserve("a")
	require.NoError(t, err)
	b, err := pool.reserve("b")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	pool.release(a, "b")
	assert.Contains(t, pool.reserved, a, "only the owner releases a port")
	pool.release(a, "a")
	assert.NotContains(t, pool.reserved, a)
}
