package sqlite

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"entitygraph/internal/domain"
)

// ============================================================================
// Null Type Conversion Helpers
// ============================================================================

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullToTimePtr safely converts sql.NullTime to *time.Time
func nullToTimePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

// stringToNull safely converts string to sql.NullString
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// ============================================================================
// Schema Evolution Guide
// ============================================================================
//
// To add a new column to the entities table:
// 1. Add field to entityRow struct (below)
// 2. Update scanArgs() - APPEND to end to match column order
// 3. Update entityColumns constant - APPEND to end
// 4. Update toDomain() if the column overrides descriptor data
// 5. Update entityInsertArgs() and the upsert statement
// 6. Add the column in sqlite.go migrate()
// 7. Update relevant tests
//
// CRITICAL: Column order must match between:
// - entityColumns constant
// - scanArgs() return slice
// - All SELECT queries using entityColumns

// ============================================================================
// Entity Row Scanner
// ============================================================================

// entityColumns lists the columns scanned by entityRow, in order
const entityColumns = `ref, kind, namespace, name, title, data, updated_at`

// entityRow holds all columns from an entity query for scanning
type entityRow struct {
	Ref       string
	Kind      string
	Namespace string
	Name      string
	Title     sql.NullString
	Data      []byte
	UpdatedAt sql.NullTime
}

func (r *entityRow) scanArgs() []interface{} {
	return []interface{}{
		&r.Ref,
		&r.Kind,
		&r.Namespace,
		&r.Name,
		&r.Title,
		&r.Data,
		&r.UpdatedAt,
	}
}

// toDomain decodes the stored descriptor. Relations are the descriptor's
// own; callers attach stitched relations.
func (r *entityRow) toDomain() (*domain.Entity, error) {
	e := &domain.Entity{}
	if err := json.Unmarshal(r.Data, e); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal entity %s", r.Ref)
	}
	if e.Metadata.Title == "" {
		e.Metadata.Title = nullToString(r.Title)
	}
	if updated := nullToTimePtr(r.UpdatedAt); updated != nil {
		if e.Metadata.Annotations == nil {
			e.Metadata.Annotations = make(map[string]string)
		}
		e.Metadata.Annotations[UpdatedAtAnnotation] = updated.UTC().Format(time.RFC3339)
	}
	return e, nil
}

// UpdatedAtAnnotation is set on read to the time the descriptor was last
// stored
const UpdatedAtAnnotation = "entitygraph.io/updated-at"

// entityInsertArgs returns the upsert arguments in statement order
func entityInsertArgs(e *domain.Entity, now time.Time) ([]interface{}, error) {
	stored := e.Clone()
	// the annotation is derived on read
	delete(stored.Metadata.Annotations, UpdatedAtAnnotation)
	if len(stored.Metadata.Annotations) == 0 {
		stored.Metadata.Annotations = nil
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal entity %s", e.Ref())
	}

	ref := e.Ref()
	return []interface{}{
		ref.String(),
		strings.ToLower(ref.Kind),
		strings.ToLower(ref.Namespace),
		strings.ToLower(ref.Name),
		stringToNull(e.Metadata.Title),
		data,
		now,
	}, nil
}
