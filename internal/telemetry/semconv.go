// Package telemetry provides OpenTelemetry bootstrap and semantic conventions for eventline.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for eventline telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name
const (
	// Event attributes
	AttrEventName = attribute.Key("event.name")
	AttrDirection = attribute.Key("event.direction")

	// Channel attributes
	AttrChannel   = attribute.Key("channel")
	AttrTransport = attribute.Key("transport")
	AttrOperation = attribute.Key("operation")
	AttrResult    = attribute.Key("result")

	// Environment attribute
	AttrEnvironment = attribute.Key("environment")

	// Error attributes
	AttrErrorType = attribute.Key("error.type")
	AttrReason    = attribute.Key("reason")

	// Connection attributes
	AttrConnectionState = attribute.Key("connection.state")
)

// Direction values
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Result values shared by channel and transport instruments.
const (
	ResultSuccess     = "success"
	ResultInvalid     = "invalid"
	ResultQueued      = "queued"
	ResultDropped     = "dropped"
	ResultTimeout     = "timeout"
	ResultNotConnect  = "not_connected"
	ResultError       = "error"
	ResultCanceled    = "canceled"
	ResultMiddleware  = "middleware_fault"
	ResultUnsupported = "unsupported"
)

// EventAttributes returns common attributes for per-event metrics.
func EventAttributes(environment, channel, direction, event string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrChannel.String(channel),
		AttrDirection.String(direction),
	}
	if event != "" {
		attrs = append(attrs, AttrEventName.String(event))
	}
	return attrs
}

// ConnectionAttributes returns attributes for connection state metrics.
func ConnectionAttributes(environment, channel, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrChannel.String(channel),
		AttrConnectionState.String(state),
	}
}

// OperationResultAttributes returns attributes for operation metrics with result classification.
func OperationResultAttributes(environment, channel, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrChannel.String(channel),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}
