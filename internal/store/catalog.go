package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// testSelectCols is the column list shared by all test_definitions queries.
const testSelectCols = `SELECT id, test_key, folder_path, spec_path, meta,
	constants, overrides, active, created_at, updated_at
 FROM test_definitions `

// TestFilter narrows ListTests. Zero value lists every active test.
type TestFilter struct {
	// FolderPrefix, when non-empty, keeps only tests whose folderPath
	// starts with it.
	FolderPrefix string
	// Tags, when non-empty, keeps tests whose meta tags overlap it.
	Tags []string
	// IncludeInactive also returns deactivated rows.
	IncludeInactive bool
}

// UpsertTest inserts or updates a catalog row by its natural key. On update
// the row keeps its id, createdAt, and overrides; location, meta, constants
// are replaced and the row is reactivated. Returns the stored row.
func (s *Store) UpsertTest(ctx context.Context, def *TestDefinition) (*TestDefinition, error) {
	metaJSON, err := encodeJSON(def.Meta)
	if err != nil {
		return nil, fmt.Errorf("store: upsert %s meta: %w", def.TestKey, err)
	}

	constantsJSON, err := encodeJSON(def.Constants)
	if err != nil {
		return nil, fmt.Errorf("store: upsert %s constants: %w", def.TestKey, err)
	}

	now := NowNano()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO test_definitions
			(id, test_key, folder_path, spec_path, meta, constants, active,
			 created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT(test_key) DO UPDATE SET
				folder_path = excluded.folder_path,
				spec_path = excluded.spec_path,
				meta = excluded.meta,
				constants = excluded.constants,
				active = 1,
				updated_at = excluded.updated_at`,
		uuid.NewString(), def.TestKey, def.FolderPath, def.SpecPath,
		metaJSON, constantsJSON, now, now)
	if err != nil {
		return nil, fmt.Errorf("store: upserting test %s: %w", def.TestKey, err)
	}

	stored, err := s.GetTestByKey(ctx, def.TestKey)
	if err != nil {
		return nil, err
	}

	if stored == nil {
		return nil, fmt.Errorf("store: test %s missing after upsert", def.TestKey)
	}

	return stored, nil
}

// GetTestByKey returns the catalog row for testKey, or nil if none exists.
func (s *Store) GetTestByKey(ctx context.Context, testKey string) (*TestDefinition, error) {
	row := s.db.QueryRowContext(ctx, testSelectCols+`WHERE test_key = ?`, testKey)

	def, err := scanTestDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return def, nil
}

// ListTests returns catalog rows matching the filter, ordered by testKey.
// Prefix and tag filters apply in Go: the catalog is small and the tag set
// lives inside the meta JSON column.
func (s *Store) ListTests(ctx context.Context, filter TestFilter) ([]TestDefinition, error) {
	query := testSelectCols + `WHERE active = 1 ORDER BY test_key`
	if filter.IncludeInactive {
		query = testSelectCols + `ORDER BY test_key`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: listing tests: %w", err)
	}
	defer rows.Close()

	var result []TestDefinition

	for rows.Next() {
		def, scanErr := scanTestDefinition(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		if filter.FolderPrefix != "" && !strings.HasPrefix(def.FolderPath, filter.FolderPrefix) {
			continue
		}

		if len(filter.Tags) > 0 && !anyTagOverlap(def.Meta.Tags, filter.Tags) {
			continue
		}

		result = append(result, *def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating test rows: %w", err)
	}

	return result, nil
}

// DeactivateMissing marks every active row whose testKey is absent from seen
// as inactive. Callers must not pass an empty seen set; discovery's safety
// valve handles that case before reaching the store. Returns the number of
// rows deactivated.
func (s *Store) DeactivateMissing(ctx context.Context, seen []string) (int, error) {
	if len(seen) == 0 {
		return 0, fmt.Errorf("store: deactivate missing: empty seen set")
	}

	placeholders := strings.Repeat("?,", len(seen))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(seen)+1)
	args = append(args, NowNano())

	for _, key := range seen {
		args = append(args, key)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE test_definitions SET active = 0, updated_at = ?
		 WHERE active = 1 AND test_key NOT IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("store: deactivating missing tests: %w", err)
	}

	n, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return 0, fmt.Errorf("store: deactivate rows affected: %w", rowsErr)
	}

	if n > 0 {
		s.logger.Info("catalog: tests deactivated", slog.Int64("count", n))
	}

	return int(n), nil
}

// UpdateTestOverrides replaces the overrides of a catalog row atomically.
// Passing nil clears them. Returns false if the testKey is unknown.
func (s *Store) UpdateTestOverrides(ctx context.Context, testKey string, overrides *ConstantSet) (bool, error) {
	overridesJSON, err := encodeJSON(overrides)
	if err != nil {
		return false, fmt.Errorf("store: encoding overrides for %s: %w", testKey, err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE test_definitions SET overrides = ?, updated_at = ? WHERE test_key = ?`,
		overridesJSON, NowNano(), testKey)
	if err != nil {
		return false, fmt.Errorf("store: updating overrides for %s: %w", testKey, err)
	}

	n, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return false, fmt.Errorf("store: overrides rows affected: %w", rowsErr)
	}

	return n > 0, nil
}

// ListTags returns the distinct tags across active tests, sorted.
func (s *Store) ListTags(ctx context.Context) ([]string, error) {
	tests, err := s.ListTests(ctx, TestFilter{})
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{})

	for i := range tests {
		for _, tag := range tests[i].Meta.Tags {
			set[tag] = struct{}{}
		}
	}

	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}

	sort.Strings(tags)

	return tags, nil
}

// ListFolderPaths returns the distinct folder paths of active tests, sorted.
func (s *Store) ListFolderPaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT folder_path FROM test_definitions
		 WHERE active = 1 ORDER BY folder_path`)
	if err != nil {
		return nil, fmt.Errorf("store: listing folder paths: %w", err)
	}
	defer rows.Close()

	var paths []string

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("store: scanning folder path: %w", err)
		}

		paths = append(paths, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating folder paths: %w", err)
	}

	return paths, nil
}

// anyTagOverlap reports whether have and want share at least one tag.
func anyTagOverlap(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}

	return false
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTestDefinition scans one test_definitions row, parsing JSON columns.
func scanTestDefinition(row rowScanner) (*TestDefinition, error) {
	var (
		def           TestDefinition
		metaJSON      sql.NullString
		constantsJSON sql.NullString
		overridesJSON sql.NullString
		active        int
		createdAt     int64
		updatedAt     int64
	)

	err := row.Scan(&def.ID, &def.TestKey, &def.FolderPath, &def.SpecPath,
		&metaJSON, &constantsJSON, &overridesJSON, &active, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("store: scanning test row: %w", err)
	}

	if err := decodeJSON(metaJSON, &def.Meta); err != nil {
		return nil, fmt.Errorf("store: test %s meta: %w", def.TestKey, err)
	}

	if err := decodeJSON(constantsJSON, &def.Constants); err != nil {
		return nil, fmt.Errorf("store: test %s constants: %w", def.TestKey, err)
	}

	if overridesJSON.Valid {
		def.Overrides = &ConstantSet{}
		if err := decodeJSON(overridesJSON, def.Overrides); err != nil {
			return nil, fmt.Errorf("store: test %s overrides: %w", def.TestKey, err)
		}
	}

	def.Active = active != 0
	def.CreatedAt = FromUnixNano(createdAt)
	def.UpdatedAt = FromUnixNano(updatedAt)

	return &def, nil
}
