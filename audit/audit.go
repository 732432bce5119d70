// Package audit records who did what to which record. Recording is
// fire-and-forget: a failed append is logged and never propagated, so an
// audit outage cannot block mutations.
package audit

import (
	"encoding/json"
	"time"

	"redtrace/metrics"
	"redtrace/storage"

	"go.uber.org/zap"
)

// Recorder writes audit entries to the log store
type Recorder struct {
	store  *storage.SQLiteAuditStorage
	logger *zap.SugaredLogger
}

// NewRecorder creates an audit recorder
func NewRecorder(store *storage.SQLiteAuditStorage, logger *zap.SugaredLogger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Event records one audit event. payload is marshalled to JSON; a nil
// payload stores an empty string.
func (r *Recorder) Event(actor, event, entityID, operationID string, payload map[string]interface{}) {
	var encoded string
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			r.logger.Warnw("Failed to encode audit payload", "event", event, "error", err)
		} else {
			encoded = string(data)
		}
	}

	entry := &storage.AuditEntry{
		Actor:       actor,
		Event:       event,
		EntityID:    entityID,
		OperationID: operationID,
		Payload:     encoded,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.store.Append(entry); err != nil {
		metrics.AuditAppendFailures.Inc()
		r.logger.Errorw("Failed to append audit entry",
			"event", event,
			"entity_id", entityID,
			"error", err,
		)
		return
	}

	r.logger.Infow("Audit event recorded",
		"actor", actor,
		"event", event,
		"entity_id", entityID,
		"operation_id", operationID,
	)
}
