// Package logging provides the structured logging used across n2kharness.
//
// It is a thin layer over log/slog. Every record carries a "subsystem"
// attribute naming the harness component that produced it (StreamQueue,
// Supervisor, Diagnostics, Broker, Harness, CLI).
//
// # Initialization
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr) // text handler
//	logging.InitForCI(logging.LevelDebug, os.Stderr) // JSON handler
//
// # Logging
//
//	logging.Debug("Supervisor", "child %d ready on port %d", pid, port)
//	logging.Error("Broker", err, "consumer for topic %s failed", topic)
//
// Before initialization only warnings and errors are written, to stderr.
package logging
