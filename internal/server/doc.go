// Package server implements the core request-processing engine of the Relay
// Chat service.
//
// The implementation is organized into specialized files for configuration,
// the directory, the job queue, the worker pool, connection sessions, and
// the TCP and WebSocket transports to keep the codebase maintainable and
// testable as the project grows.
package server
