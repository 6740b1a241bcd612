package deferq

import (
	"github.com/rs/zerolog"
	"github.com/viant/deferq/service/crank"
	"github.com/viant/deferq/service/event"
	"github.com/viant/deferq/service/ledger"
	ledgermem "github.com/viant/deferq/service/ledger/memory"
	"github.com/viant/deferq/service/store"
	"github.com/viant/deferq/tracing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option configures the service.
type Option func(s *Service)

// WithConfig sets the configuration; nil keeps DefaultConfig.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		if config != nil {
			s.config = config
		}
	}
}

// WithLogger sets the logger shared by all services.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = &logger
	}
}

// WithStore sets the account store, overriding the store configuration.
func WithStore(st store.Store) Option {
	return func(s *Service) {
		s.store = st
	}
}

// WithEventService sets the event service.
func WithEventService(service *event.Service) Option {
	return func(s *Service) {
		s.events = service
	}
}

// WithPrograms registers additional programs on both ledgers.
func WithPrograms(programs ...ledger.Program) Option {
	return func(s *Service) {
		s.programs = append(s.programs, programs...)
	}
}

// WithLedgerOptions passes options to both in-memory ledgers.
func WithLedgerOptions(opts ...ledgermem.Option) Option {
	return func(s *Service) {
		s.ledgerOptions = append(s.ledgerOptions, opts...)
	}
}

// WithCrankOptions passes options to the crank.
func WithCrankOptions(opts ...crank.Option) Option {
	return func(s *Service) {
		s.crankOptions = append(s.crankOptions, opts...)
	}
}

// WithTracing configures OpenTelemetry tracing for the service. If outputFile is empty the
// stdout exporter is used; otherwise traces are written to the supplied file path. The first
// successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom SpanExporter.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
