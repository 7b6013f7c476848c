// Package testutil builds on-disk fixtures for command-level tests: deployed
// test trees the discoverer can walk and config directories the loaders
// accept.
package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/akeyanjam/mbss-test/internal/config"
	"github.com/akeyanjam/mbss-test/internal/discovery"
)

const (
	dirPermissions  = 0o755
	filePermissions = 0o644
)

// TestFolder describes one test folder to scaffold under a test root.
type TestFolder struct {
	Dir          string // folder path relative to the root, forward-slashed
	TestKey      string
	FriendlyName string
	Tags         []string
	SpecName     string // spec file name; empty means "main.spec.js"
	Constants    string // raw constants.json content; empty omits the file
}

// WriteTestFolder creates the folder with a meta.json and exactly one spec
// file, the minimal layout discovery accepts. Returns the absolute folder
// path.
func WriteTestFolder(tb testing.TB, root string, folder TestFolder) string {
	tb.Helper()

	dir := filepath.Join(root, filepath.FromSlash(folder.Dir))
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		tb.Fatalf("creating test folder %s: %v", dir, err)
	}

	meta := map[string]any{
		"testKey":      folder.TestKey,
		"friendlyName": folder.FriendlyName,
	}
	if len(folder.Tags) > 0 {
		meta["tags"] = folder.Tags
	}

	data, err := json.Marshal(meta)
	if err != nil {
		tb.Fatalf("marshaling meta.json: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, discovery.MetaFileName), data, filePermissions); err != nil {
		tb.Fatalf("writing meta.json: %v", err)
	}

	spec := folder.SpecName
	if spec == "" {
		spec = "main.spec.js"
	}

	if err := os.WriteFile(filepath.Join(dir, spec), []byte("// placeholder spec\n"), filePermissions); err != nil {
		tb.Fatalf("writing spec file: %v", err)
	}

	if folder.Constants != "" {
		if err := os.WriteFile(filepath.Join(dir, discovery.ConstantsFileName), []byte(folder.Constants), filePermissions); err != nil {
			tb.Fatalf("writing constants.json: %v", err)
		}
	}

	return dir
}

// WriteConfigDir scaffolds an orchestrator config directory. Empty contents
// skip the corresponding file, so callers provide only what a test needs.
func WriteConfigDir(tb testing.TB, dir, appConfig, environments, users string) {
	tb.Helper()

	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		tb.Fatalf("creating config dir %s: %v", dir, err)
	}

	files := map[string]string{
		config.AppConfigFileName:    appConfig,
		config.EnvironmentsFileName: environments,
		config.UsersFileName:        users,
	}

	for name, content := range files {
		if content == "" {
			continue
		}

		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), filePermissions); err != nil {
			tb.Fatalf("writing %s: %v", name, err)
		}
	}
}

// AppConfigJSON renders a minimal app.config.json with every path rooted
// under home, so command tests never touch the working directory.
func AppConfigJSON(home string) string {
	return fmt.Sprintf(`{"testRoot":%q,"artifactRoot":%q,"databasePath":%q}`,
		filepath.Join(home, "tests"),
		filepath.Join(home, "artifacts"),
		filepath.Join(home, "orchestrator.db"))
}
