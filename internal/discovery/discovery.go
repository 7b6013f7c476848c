// Package discovery reconciles the deployed test tree with the persistent
// catalog. A directory is a test folder iff it holds a meta.json and exactly
// one *.spec.js file; everything else is traversal. Folder-level defects are
// logged and skipped so one broken test never blocks the rest of the tree.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/akeyanjam/mbss-test/internal/store"
)

// Well-known file names inside a test folder.
const (
	MetaFileName      = "meta.json"
	ConstantsFileName = "constants.json"
	specSuffix        = ".spec.js"
)

// CatalogStore is the slice of the store discovery writes through.
type CatalogStore interface {
	UpsertTest(ctx context.Context, def *store.TestDefinition) (*store.TestDefinition, error)
	DeactivateMissing(ctx context.Context, seen []string) (int, error)
}

// Syncer walks the test root and reconciles the catalog against it.
type Syncer struct {
	catalog CatalogStore
	root    string
	logger  *slog.Logger
}

// NewSyncer creates a Syncer over the given test root.
func NewSyncer(root string, catalog CatalogStore, logger *slog.Logger) *Syncer {
	return &Syncer{
		catalog: catalog,
		root:    root,
		logger:  logger,
	}
}

// Result summarizes one reconciliation pass.
type Result struct {
	Found       int // test folders that parsed cleanly
	Skipped     int // folders with defects (bad meta, spec count, duplicates)
	Deactivated int // catalog rows whose source vanished
}

// metaFile is the on-disk shape of meta.json. testKey lives here rather than
// in the folder name so moves don't change identity.
type metaFile struct {
	TestKey      string   `json:"testKey"`
	FriendlyName string   `json:"friendlyName"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags"`
}

// Sync performs one full reconciliation pass. A nonexistent root logs a
// warning and returns cleanly; an empty tree leaves the catalog untouched
// (the safety valve against mass deactivation when the deploy is missing).
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	result := &Result{}

	if _, err := os.Stat(s.root); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("discovery: test root does not exist, skipping",
				slog.String("root", s.root))
			return result, nil
		}

		return nil, fmt.Errorf("discovery: checking test root %s: %w", s.root, err)
	}

	s.logger.Info("discovery: starting catalog sync", slog.String("root", s.root))

	folders, defective, err := s.collectTestFolders(ctx)
	if err != nil {
		return nil, err
	}

	result.Skipped = defective

	seen := make(map[string]bool)

	var seenKeys []string

	for _, folder := range folders {
		def, ok := s.loadTestFolder(folder)
		if !ok {
			result.Skipped++
			continue
		}

		if seen[def.TestKey] {
			s.logger.Warn("discovery: duplicate testKey, keeping first occurrence",
				slog.String("test_key", def.TestKey),
				slog.String("folder", def.FolderPath))

			result.Skipped++

			continue
		}

		if _, err := s.catalog.UpsertTest(ctx, def); err != nil {
			s.logger.Warn("discovery: upsert failed, skipping folder",
				slog.String("test_key", def.TestKey),
				slog.String("error", err.Error()))

			result.Skipped++

			continue
		}

		seen[def.TestKey] = true
		seenKeys = append(seenKeys, def.TestKey)
		result.Found++
	}

	if len(seenKeys) == 0 {
		s.logger.Warn("discovery: no test folders found, leaving catalog untouched",
			slog.String("root", s.root))

		return result, nil
	}

	deactivated, err := s.catalog.DeactivateMissing(ctx, seenKeys)
	if err != nil {
		return nil, fmt.Errorf("discovery: deactivating vanished tests: %w", err)
	}

	result.Deactivated = deactivated

	s.logger.Info("discovery: catalog sync complete",
		slog.Int("found", result.Found),
		slog.Int("skipped", result.Skipped),
		slog.Int("deactivated", result.Deactivated),
	)

	return result, nil
}

// testFolder is one directory that looked like a test during the walk.
type testFolder struct {
	fsPath   string // absolute, original filesystem names for I/O
	relPath  string // normalized POSIX path relative to root, for the catalog
	specName string // the single *.spec.js file name (normalized)
}

// collectTestFolders walks the root and returns every directory holding a
// meta.json with its spec file resolved, plus the count of directories that
// declared a meta.json but failed the shape check. Walk errors skip the
// subtree.
func (s *Syncer) collectTestFolders(ctx context.Context) ([]testFolder, int, error) {
	var folders []testFolder

	defective := 0

	walkFn := func(fsPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			s.logger.Warn("discovery: walk error, skipping subtree",
				slog.String("path", fsPath), slog.String("error", walkErr.Error()))

			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		switch folder, verdict := s.examineFolder(fsPath); verdict {
		case folderIsTest:
			folders = append(folders, *folder)
		case folderDefective:
			defective++
		}

		return nil
	}

	if err := filepath.WalkDir(s.root, walkFn); err != nil {
		if ctx.Err() != nil {
			return nil, 0, fmt.Errorf("discovery: walk canceled: %w", ctx.Err())
		}

		return nil, 0, fmt.Errorf("discovery: walking %s: %w", s.root, err)
	}

	return folders, defective, nil
}

// folderVerdict classifies a directory during the walk. Plain traversal
// directories are neither tests nor defects.
type folderVerdict int

const (
	folderNotTest folderVerdict = iota
	folderIsTest
	folderDefective
)

// examineFolder checks whether a directory is a test folder: a meta.json
// plus exactly one *.spec.js. A directory with a meta.json but the wrong
// spec count is a defect, logged and rejected.
func (s *Syncer) examineFolder(fsPath string) (*testFolder, folderVerdict) {
	entries, err := os.ReadDir(fsPath)
	if err != nil {
		s.logger.Warn("discovery: cannot read directory, skipping",
			slog.String("path", fsPath), slog.String("error", err.Error()))
		return nil, folderNotTest
	}

	hasMeta := false

	var specNames []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		switch {
		case entry.Name() == MetaFileName:
			hasMeta = true
		case strings.HasSuffix(entry.Name(), specSuffix):
			specNames = append(specNames, entry.Name())
		}
	}

	if !hasMeta {
		return nil, folderNotTest
	}

	if len(specNames) != 1 {
		s.logger.Warn("discovery: folder needs exactly one spec file, skipping",
			slog.String("path", fsPath), slog.Int("specs", len(specNames)))
		return nil, folderDefective
	}

	relPath, err := filepath.Rel(s.root, fsPath)
	if err != nil {
		s.logger.Warn("discovery: cannot compute relative path, skipping",
			slog.String("path", fsPath), slog.String("error", err.Error()))
		return nil, folderDefective
	}

	return &testFolder{
		fsPath:   fsPath,
		relPath:  nfcNormalize(filepath.ToSlash(relPath)),
		specName: nfcNormalize(specNames[0]),
	}, folderIsTest
}

// loadTestFolder parses a test folder's meta.json and optional
// constants.json into a catalog definition. Returns false on any defect.
func (s *Syncer) loadTestFolder(folder testFolder) (*store.TestDefinition, bool) {
	meta, ok := s.readMeta(folder)
	if !ok {
		return nil, false
	}

	constants, ok := s.readConstants(folder)
	if !ok {
		return nil, false
	}

	return &store.TestDefinition{
		TestKey:    meta.TestKey,
		FolderPath: folder.relPath,
		SpecPath:   folder.relPath + "/" + folder.specName,
		Meta: store.TestMeta{
			FriendlyName: meta.FriendlyName,
			Description:  meta.Description,
			Tags:         meta.Tags,
		},
		Constants: constants,
	}, true
}

// readMeta parses and validates meta.json.
func (s *Syncer) readMeta(folder testFolder) (*metaFile, bool) {
	raw, err := os.ReadFile(filepath.Join(folder.fsPath, MetaFileName))
	if err != nil {
		s.logger.Warn("discovery: cannot read meta.json, skipping",
			slog.String("folder", folder.relPath), slog.String("error", err.Error()))
		return nil, false
	}

	var meta metaFile
	if err := json.Unmarshal(raw, &meta); err != nil {
		s.logger.Warn("discovery: unparseable meta.json, skipping",
			slog.String("folder", folder.relPath), slog.String("error", err.Error()))
		return nil, false
	}

	if meta.TestKey == "" || meta.FriendlyName == "" {
		s.logger.Warn("discovery: meta.json missing testKey or friendlyName, skipping",
			slog.String("folder", folder.relPath))
		return nil, false
	}

	// The key becomes an artifact directory name, so it must stay a single
	// path component.
	if strings.ContainsAny(meta.TestKey, `/\`) || meta.TestKey == "." || meta.TestKey == ".." {
		s.logger.Warn("discovery: testKey is not a valid path component, skipping",
			slog.String("folder", folder.relPath), slog.String("test_key", meta.TestKey))
		return nil, false
	}

	return &meta, true
}

// readConstants parses constants.json; an absent file is an empty set.
func (s *Syncer) readConstants(folder testFolder) (store.ConstantSet, bool) {
	var constants store.ConstantSet

	raw, err := os.ReadFile(filepath.Join(folder.fsPath, ConstantsFileName))
	if errors.Is(err, os.ErrNotExist) {
		return constants, true
	}

	if err != nil {
		s.logger.Warn("discovery: cannot read constants.json, skipping",
			slog.String("folder", folder.relPath), slog.String("error", err.Error()))
		return constants, false
	}

	if err := json.Unmarshal(raw, &constants); err != nil {
		s.logger.Warn("discovery: unparseable constants.json, skipping",
			slog.String("folder", folder.relPath), slog.String("error", err.Error()))
		return constants, false
	}

	return constants, true
}

// nfcNormalize applies NFC Unicode normalization. macOS volumes hand back
// NFD names; the catalog stores NFC so keys compare stably across hosts.
func nfcNormalize(s string) string {
	return norm.NFC.String(s)
}
