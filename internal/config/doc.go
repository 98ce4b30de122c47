// Package config loads the harness configuration.
//
// Values are layered: built-in defaults, then an optional YAML file
// (--config), then N2KH_* environment variables. Command-line flags are
// applied on top by the cmd package.
//
//	child: valgrind --tool=helgrind --xml=yes --xml-file=helgrind.xml
//	binary: ./n2kafka
//	gateway_brokers: kafka
//	broker:
//	  brokers: [kafka:9092]
//	  read_timeout: 5s
//	timeouts:
//	  ready: 60s
//	  exit: 10m
package config
