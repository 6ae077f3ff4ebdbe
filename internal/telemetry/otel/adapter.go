package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"nuomoria/backend/internal/telemetry"
	"nuomoria/backend/internal/telemetry/domain"
)

const scopeName = "nuomoria.auth"

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return NewEventEmitterWithLogger(provider.Logger(scopeName))
}

// NewEventEmitterWithLogger wraps an otellog.Logger directly.
func NewEventEmitterWithLogger(logger otellog.Logger) telemetry.EventEmitter {
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.Event) error { return nil }

type otelEmitter struct {
	logger otellog.Logger
}

func (e *otelEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetSeverity(severity(event.Type))
	if len(event.Metadata) > 0 {
		rec.SetBody(otellog.BytesValue(event.Metadata))
	}
	addString(&rec, "event_type", event.Type)
	addString(&rec, "principal_id", event.PrincipalID)
	addString(&rec, "user_id", event.UserID)
	addString(&rec, "outcome", event.Outcome)
	addString(&rec, "source", event.Source)
	if event.Generation > 0 {
		rec.AddAttributes(otellog.Int64("generation", int64(event.Generation)))
	}
	e.logger.Emit(ctx, rec)
	return nil
}

func addString(rec *otellog.Record, key, value string) {
	if value != "" {
		rec.AddAttributes(otellog.String(key, value))
	}
}

func severity(eventType string) otellog.Severity {
	switch eventType {
	case domain.EventIdentityConflict, domain.EventSessionExpired:
		return otellog.SeverityWarn
	case domain.EventAuthStateDiscarded:
		return otellog.SeverityDebug
	default:
		return otellog.SeverityInfo
	}
}
