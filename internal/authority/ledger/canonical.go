package ledger

import (
	"encoding/json"

	"github.com/garudex-labs/caracal/internal/authority/model"
)

// wireEvent is the on-the-wire ledger event encoding (spec.md §6): a
// versioned tagged object, sorted-key, numeric timestamps in UTC
// milliseconds, null/empty fields omitted. Field order here is the sort
// order, since Go struct marshaling is declaration-order — every consumer
// that recomputes a leaf hash must reproduce these bytes exactly.
type wireEvent struct {
	CorrelationID     string            `json:"correlation_id,omitempty"`
	Decision          string            `json:"decision,omitempty"`
	DenialReason      string            `json:"denial_reason,omitempty"`
	EventID           int64             `json:"event_id"`
	Kind              string            `json:"kind"`
	MandateID         string            `json:"mandate_id,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	PrincipalID       string            `json:"principal_id"`
	RequestedAction   string            `json:"requested_action,omitempty"`
	RequestedResource string            `json:"requested_resource,omitempty"`
	SchemaVersion     int               `json:"schema_version"`
	TimestampMillis   int64             `json:"timestamp_millis"`
}

// canonicalEventBytes serializes e into the wire format its leaf hash and
// signature commit to.
func canonicalEventBytes(e model.LedgerEvent) []byte {
	w := wireEvent{
		CorrelationID:     e.CorrelationID,
		Decision:          string(e.Decision),
		DenialReason:      e.DenialReason,
		EventID:           e.ID,
		Kind:              string(e.Kind),
		MandateID:         e.MandateID,
		Metadata:          e.Metadata,
		PrincipalID:       e.PrincipalID,
		RequestedAction:   e.RequestedAction,
		RequestedResource: e.RequestedResource,
		SchemaVersion:     1,
		TimestampMillis:   e.Timestamp.UTC().UnixMilli(),
	}
	// wireEvent's fields are exhaustive and always marshal cleanly.
	b, _ := json.Marshal(w)
	return b
}
