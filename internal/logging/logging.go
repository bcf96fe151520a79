// Package logging emits the engine's structured observability events. Each
// event carries its name, an optional correlation id and an optional latency
// measurement; formatting and transport stay with zerolog.
package logging

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Fields is a flat set of event attributes.
type Fields map[string]interface{}

const redactedValue = "[REDACTED]"

// secretKeys lists field names whose values must never reach the log output.
var secretKeys = map[string]struct{}{
	"secret":        {},
	"password":      {},
	"passwd":        {},
	"token":         {},
	"authorization": {},
	"cookie":        {},
	"set-cookie":    {},
	"api_key":       {},
	"apikey":        {},
	"session":       {},
}

// RedactSecrets replaces values of secret-looking keys. The returned map is
// a copy; the input is untouched.
func RedactSecrets(fields Fields) Fields {
	out := make(Fields, len(fields))
	for k, v := range fields {
		if _, secret := secretKeys[strings.ToLower(k)]; secret {
			out[k] = redactedValue
			continue
		}
		if nested, ok := v.(Fields); ok {
			out[k] = RedactSecrets(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// Recorder emits structured events through a zerolog logger.
type Recorder struct {
	logger zerolog.Logger
}

// NewRecorder creates a Recorder on the given logger.
func NewRecorder(logger zerolog.Logger) *Recorder {
	return &Recorder{logger: logger}
}

// Default returns a Recorder on the global zerolog logger.
func Default() *Recorder {
	return &Recorder{logger: log.Logger}
}

// Event logs a named engine event with its fields after redaction.
func (r *Recorder) Event(name string, fields Fields) {
	r.emit(name, fields, "", -1)
}

// EventCtx logs a named engine event tagged with a correlation id and, when
// latencyMs >= 0, a latency measurement.
func (r *Recorder) EventCtx(name string, fields Fields, correlationID string, latencyMs float64) {
	r.emit(name, fields, correlationID, latencyMs)
}

func (r *Recorder) emit(name string, fields Fields, correlationID string, latencyMs float64) {
	ev := r.logger.Info()
	for k, v := range RedactSecrets(fields) {
		ev = ev.Interface(k, v)
	}
	if correlationID != "" {
		ev = ev.Str("correlation_id", correlationID)
	}
	if latencyMs >= 0 {
		ev = ev.Float64("latency_ms", latencyMs)
	}
	ev.Str("event", name).Msg(name)
}
