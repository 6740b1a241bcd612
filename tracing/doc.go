// Package tracing wraps OpenTelemetry so task queue, delegation and crank
// operations can open spans without importing the SDK directly. Until Init
// is called the global no-op provider is used and spans cost nothing.
package tracing
