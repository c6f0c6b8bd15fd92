// ABOUTME: Audit log of bulk operations that move or import vouch data between namespaces
// ABOUTME: Entries are written inside the operation's own transaction so they commit or vanish with it

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditMergeNamespace AuditAction = "merge_namespace"
	AuditMergeParty     AuditAction = "merge_party"
	AuditImportVouches  AuditAction = "import_vouches"
)

// ValidAuditActions lists all valid audit actions.
var ValidAuditActions = []AuditAction{
	AuditMergeNamespace,
	AuditMergeParty,
	AuditImportVouches,
}

// Valid reports whether a is a known action.
func (a AuditAction) Valid() bool {
	for _, v := range ValidAuditActions {
		if a == v {
			return true
		}
	}
	return false
}

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID              string         `json:"id"`                         // UUID v4
	Action          AuditAction    `json:"action"`                     // what was done
	SourceNamespace string         `json:"source_namespace"`           // namespace rows came from, or were imported into
	TargetNamespace *string        `json:"target_namespace,omitempty"` // namespace rows went to (merges only)
	Subject         *string        `json:"subject,omitempty"`          // party moved by a party merge
	Timestamp       time.Time      `json:"timestamp"`                  // when it happened
	Detail          map[string]any `json:"detail,omitempty"`           // per-table counts and similar context
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since     *time.Time   // entries at or after this time
	Until     *time.Time   // entries at or before this time
	Action    *AuditAction // filter by action type
	Namespace *string      // matches either source or target namespace
	Limit     int          // max results (default 100, max 1000)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// appendAudit writes e using x, normally the transaction of the operation
// being audited. ID and Timestamp are filled in when unset.
func (s *SQLiteStore) appendAudit(ctx context.Context, x execer, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	_, err := x.ExecContext(ctx, `
		INSERT INTO audit_log (audit_id, action, source_guild_id, target_guild_id, subject_id, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		string(e.Action),
		e.SourceNamespace,
		nullString(e.TargetNamespace),
		nullString(e.Subject),
		formatTime(e.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log", "id", e.ID, "action", e.Action, "source", e.SourceNamespace)
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// auditQueryArgs holds the nullable query arguments derived from an AuditFilter.
type auditQueryArgs struct {
	sinceStr  *string
	untilStr  *string
	actionStr *string
}

func buildAuditQueryArgs(f AuditFilter) auditQueryArgs {
	var args auditQueryArgs
	if f.Since != nil {
		s := formatTime(*f.Since)
		args.sinceStr = &s
	}
	if f.Until != nil {
		s := formatTime(*f.Until)
		args.untilStr = &s
	}
	if f.Action != nil {
		a := string(*f.Action)
		args.actionStr = &a
	}
	return args
}

func scanAuditEntry(scanner rowScanner) (AuditEntry, error) {
	var e AuditEntry
	var actionStr, tsStr string
	var target, subject, detailJSON sql.NullString

	if err := scanner.Scan(&e.ID, &actionStr, &e.SourceNamespace, &target, &subject, &tsStr, &detailJSON); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Action = AuditAction(actionStr)
	e.TargetNamespace = stringPtr(target)
	e.Subject = stringPtr(subject)

	var err error
	if e.Timestamp, err = parseTime(tsStr); err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}
	if detailJSON.Valid {
		if err := json.Unmarshal([]byte(detailJSON.String), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}

const auditLogQuery = `
	SELECT audit_id, action, source_guild_id, target_guild_id, subject_id, ts, detail_json
	FROM audit_log
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR ts <= ?)
	  AND (? IS NULL OR action = ?)
	  AND (? IS NULL OR source_guild_id = ? OR target_guild_id = ?)
	ORDER BY ts DESC, rowid DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter criteria.
// Results are returned newest first (DESC by timestamp).
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	limit := normalizeAuditLimit(f.Limit)
	args := buildAuditQueryArgs(f)

	return call(ctx, s, "list_audit_log", func(ctx context.Context) ([]AuditEntry, error) {
		rows, err := s.db.QueryContext(ctx, auditLogQuery,
			args.sinceStr, args.sinceStr,
			args.untilStr, args.untilStr,
			args.actionStr, args.actionStr,
			f.Namespace, f.Namespace, f.Namespace,
			limit,
		)
		if err != nil {
			return nil, storageErr("list_audit_log", fmt.Errorf("querying audit log: %w", err))
		}
		defer func() { _ = rows.Close() }()

		entries := []AuditEntry{}
		for rows.Next() {
			e, err := scanAuditEntry(rows)
			if err != nil {
				return nil, storageErr("list_audit_log", err)
			}
			entries = append(entries, e)
		}
		if err := rows.Err(); err != nil {
			return nil, storageErr("list_audit_log", fmt.Errorf("iterating audit entries: %w", err))
		}
		return entries, nil
	})
}
