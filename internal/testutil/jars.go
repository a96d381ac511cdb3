package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
)

// Zip builds an in-memory zip archive from name -> content. Entries are
// written in name order so fixtures are reproducible.
func Zip(tb testing.TB, files map[string][]byte) []byte {
	tb.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			tb.Fatalf("failed to create zip entry %s: %v", name, err)
		}
		if _, err := w.Write(files[name]); err != nil {
			tb.Fatalf("failed to write zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		tb.Fatalf("failed to close zip: %v", err)
	}
	return buf.Bytes()
}

// ModsTOML renders a minimal mod descriptor with one [[mods]] entry.
func ModsTOML(id, version string) []byte {
	return []byte(fmt.Sprintf(`modLoader="javafml"
loaderVersion="[47,)"
license="MIT"

[[mods]]
modId=%q
version=%q
displayName="Test Mod"

[[dependencies.%s]]
modId="forge"
mandatory=true
versionRange="[47,)"
`, id, version, id))
}

// ModJar builds a jar whose descriptor declares id and version.
func ModJar(tb testing.TB, id, version string) []byte {
	tb.Helper()
	return Zip(tb, map[string][]byte{
		"META-INF/mods.toml":   ModsTOML(id, version),
		"META-INF/MANIFEST.MF": []byte("Manifest-Version: 1.0\r\n"),
	})
}

// WriteFile writes data to dir/name and returns the full path.
func WriteFile(tb testing.TB, dir, name string, data []byte) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		tb.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		tb.Fatal(err)
	}
	return path
}
