package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// encodeJSON marshals v into a nullable TEXT column value. A nil pointer or
// nil map stores SQL NULL rather than the string "null".
func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("store: encoding json column: %w", err)
	}

	if string(raw) == "null" {
		return sql.NullString{}, nil
	}

	return sql.NullString{String: string(raw), Valid: true}, nil
}

// decodeJSON unmarshals a nullable TEXT column into dst. NULL leaves dst
// untouched (its zero value).
func decodeJSON(col sql.NullString, dst any) error {
	if !col.Valid || col.String == "" {
		return nil
	}

	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		return fmt.Errorf("store: decoding json column: %w", err)
	}

	return nil
}

// timeFromNano converts a nullable INTEGER timestamp column to *time.Time.
func timeFromNano(col sql.NullInt64) *time.Time {
	if !col.Valid {
		return nil
	}

	t := FromUnixNano(col.Int64)
	return &t
}

// nanoFromTime converts an optional timestamp to its column value.
func nanoFromTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: ToUnixNano(*t), Valid: true}
}

// int64FromPtr converts an optional int64 (duration) to its column value.
func int64FromPtr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: *v, Valid: true}
}

// nullString converts an optional string to its column value, mapping the
// empty string to SQL NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}
