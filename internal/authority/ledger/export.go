package ledger

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

// ExportFormat enumerates the ledger's audit-export encodings (supplemented
// from original_source/caracal/core/audit.py's export_json/export_csv/
// export_syslog, spec.md §6 `GET /ledger?format=`).
type ExportFormat string

const (
	ExportJSON   ExportFormat = "json"
	ExportCSV    ExportFormat = "csv"
	ExportSyslog ExportFormat = "syslog"
)

// DefaultSyslogFacility and DefaultSyslogSeverity match audit.py's
// defaults: facility 16 (local0), severity 6 (informational).
const (
	DefaultSyslogFacility = 16
	DefaultSyslogSeverity = 6
)

type exportEntry struct {
	EventID           int64             `json:"event_id"`
	Kind              string            `json:"kind"`
	Timestamp         string            `json:"timestamp"`
	PrincipalID       string            `json:"principal_id"`
	MandateID         string            `json:"mandate_id,omitempty"`
	Decision          string            `json:"decision,omitempty"`
	DenialReason      string            `json:"denial_reason,omitempty"`
	RequestedAction   string            `json:"requested_action,omitempty"`
	RequestedResource string            `json:"requested_resource,omitempty"`
	CorrelationID     string            `json:"correlation_id,omitempty"`
	MerkleRootID      string            `json:"merkle_root_id,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

func toExportEntry(e model.LedgerEvent) exportEntry {
	return exportEntry{
		EventID:           e.ID,
		Kind:              string(e.Kind),
		Timestamp:         e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		PrincipalID:       e.PrincipalID,
		MandateID:         e.MandateID,
		Decision:          string(e.Decision),
		DenialReason:      e.DenialReason,
		RequestedAction:   e.RequestedAction,
		RequestedResource: e.RequestedResource,
		CorrelationID:     e.CorrelationID,
		MerkleRootID:      e.MerkleRootID,
		Metadata:          e.Metadata,
	}
}

// Export encodes events in the requested format (spec.md §6 `GET /ledger`).
func Export(events []model.LedgerEvent, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportJSON, "":
		return exportJSON(events)
	case ExportCSV:
		return exportCSV(events)
	case ExportSyslog:
		return exportSyslog(events, DefaultSyslogFacility, DefaultSyslogSeverity)
	default:
		return nil, apperr.New(apperr.CodeValidation, "ledger: unknown export format "+string(format))
	}
}

// exportJSON renders events as an indented JSON array (audit.py's
// export_json).
func exportJSON(events []model.LedgerEvent) ([]byte, error) {
	entries := make([]exportEntry, len(events))
	for i, e := range events {
		entries[i] = toExportEntry(e)
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "ledger: marshal json export", err)
	}
	return b, nil
}

// exportCSV renders events as CSV with metadata JSON-encoded into one cell
// (audit.py's export_csv).
func exportCSV(events []model.LedgerEvent) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"event_id", "kind", "timestamp", "principal_id", "mandate_id", "decision",
		"denial_reason", "requested_action", "requested_resource", "correlation_id",
		"merkle_root_id", "metadata_json",
	}
	if err := w.Write(header); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "ledger: write csv header", err)
	}

	for _, e := range events {
		metadataJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "ledger: marshal csv metadata", err)
		}
		row := []string{
			strconv.FormatInt(e.ID, 10),
			string(e.Kind),
			e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			e.PrincipalID,
			e.MandateID,
			string(e.Decision),
			e.DenialReason,
			e.RequestedAction,
			e.RequestedResource,
			e.CorrelationID,
			e.MerkleRootID,
			string(metadataJSON),
		}
		if err := w.Write(row); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "ledger: write csv row", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "ledger: flush csv", err)
	}
	return buf.Bytes(), nil
}

// exportSyslog renders events as RFC 5424 lines (audit.py's export_syslog):
// <priority>1 timestamp hostname app-name procid msgid structured-data message.
func exportSyslog(events []model.LedgerEvent, facility, severity int) ([]byte, error) {
	priority := facility*8 + severity

	lines := make([]string, 0, len(events))
	for _, e := range events {
		timestamp := e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

		var sd strings.Builder
		sd.WriteString(fmt.Sprintf(`[caracal@32473 event_id="%d" kind="%s" principal_id="%s"`,
			e.ID, e.Kind, e.PrincipalID))
		if e.MandateID != "" {
			sd.WriteString(fmt.Sprintf(` mandate_id="%s"`, e.MandateID))
		}
		if e.CorrelationID != "" {
			sd.WriteString(fmt.Sprintf(` correlation_id="%s"`, e.CorrelationID))
		}
		sd.WriteString("]")

		metadataJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "ledger: marshal syslog message", err)
		}
		message := fmt.Sprintf("authority ledger event: %s", metadataJSON)

		line := fmt.Sprintf("<%d>1 %s authorityd ledger-export - - %s %s",
			priority, timestamp, sd.String(), message)
		lines = append(lines, line)
	}
	return []byte(strings.Join(lines, "\n")), nil
}
