package config

import (
	"time"

	"n2kharness/internal/broker"
)

const (
	DefaultChild          = "./n2kafka"
	DefaultBinary         = "./n2kafka"
	DefaultHost           = "localhost"
	DefaultGatewayBrokers = "kafka"
	DefaultBroker         = "kafka:9092"
)

// GetDefaultConfig returns the configuration used when nothing else is set.
func GetDefaultConfig() HarnessConfig {
	return HarnessConfig{
		Child:          DefaultChild,
		Binary:         DefaultBinary,
		Host:           DefaultHost,
		GatewayBrokers: DefaultGatewayBrokers,
		Broker: broker.Config{
			Brokers:      []string{DefaultBroker},
			ClientID:     broker.DefaultClientID,
			ReadTimeout:  broker.DefaultReadTimeout,
			DrainTimeout: broker.DefaultDrainTimeout,
		},
		Timeouts: Timeouts{
			Ready:      60 * time.Second,
			Exit:       600 * time.Second,
			Line:       5 * time.Second,
			LogPattern: 30 * time.Second,
			Request:    30 * time.Second,
			Scenario:   10 * time.Minute,
		},
	}
}
