package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultService names the tracer when config does not override it.
const DefaultService = "pipebird"

// Tracer returns a named tracer for the service.
func Tracer(service string) trace.Tracer {
	if service == "" {
		service = DefaultService
	}
	return otel.Tracer(service)
}
