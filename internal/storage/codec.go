package storage

import (
	"database/sql"
	"strings"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// joinList encodes values as ",a,b," so a single value can be found with
// instr(column, ',a,').
func joinList[T ~string](values []T) string {
	if len(values) == 0 {
		return ""
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return "," + strings.Join(parts, ",") + ","
}

func splitList[T ~string](s string) []T {
	s = strings.Trim(s, ",")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]T, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, T(p))
		}
	}
	return out
}

func listToStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func stringsToList[T ~string](values []string) []T {
	out := make([]T, len(values))
	for i, v := range values {
		out[i] = T(v)
	}
	return out
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

// Helper functions

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// filterRules keeps enabled rules monitoring errorType, scoped to ownerID
// when it is set.
func filterRules(rules []*models.AlertRule, errorType models.ErrorType, ownerID string) []*models.AlertRule {
	var out []*models.AlertRule
	for _, r := range rules {
		if !r.Enabled || !r.Monitors(errorType) {
			continue
		}
		if ownerID != "" && r.OwnerID != ownerID {
			continue
		}
		out = append(out, r)
	}
	return out
}
