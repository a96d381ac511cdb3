package inventory

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/modmeta"
	"github.com/spf13/afero"
)

// ArchiveExtensions are the recognized mod archive extensions
var ArchiveExtensions = []string{
	".jar",
}

// IsArchive returns true if the file has a mod archive extension
func IsArchive(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, valid := range ArchiveExtensions {
		if ext == valid {
			return true
		}
	}
	return false
}

// Discover lists the archive file names directly inside dir, sorted by name.
// Subdirectories are skipped.
func Discover(fs afero.Fs, dir string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, info := range entries {
		if !info.Mode().IsRegular() {
			continue
		}
		if IsArchive(info.Name()) {
			names = append(names, info.Name())
		}
	}

	sort.Strings(names)
	return names, nil
}

// File is one on-disk archive resolved to a mod identifier
type File struct {
	Name    string
	Version string // empty when unresolved; never equal to a catalog version
	ModTime time.Time
}

// Inventory maps mod identifiers to the local files declaring them. Files of
// one identifier keep scan order.
type Inventory struct {
	Mods map[string][]File
	// Unresolved lists archives whose identifier could not be determined.
	// They are never reconciled.
	Unresolved []string
}

// New returns an empty inventory
func New() *Inventory {
	return &Inventory{Mods: make(map[string][]File)}
}

// Add appends a file to the identifier's list
func (inv *Inventory) Add(id string, f File) {
	inv.Mods[id] = append(inv.Mods[id], f)
}

// Empty reports whether no archive resolved to an identifier
func (inv *Inventory) Empty() bool {
	return len(inv.Mods) == 0
}

// Count returns the number of resolved archives
func (inv *Inventory) Count() int {
	n := 0
	for _, files := range inv.Mods {
		n += len(files)
	}
	return n
}

// Resolver resolves archive metadata. *modmeta.Resolver implements it.
type Resolver interface {
	ResolveFile(fs afero.Fs, path string) (modmeta.Metadata, time.Time, error)
}

// Builder scans a mods directory into an Inventory
type Builder struct {
	fs       afero.Fs
	resolver Resolver
	logger   *slog.Logger
}

// NewBuilder creates a new inventory builder
func NewBuilder(fs afero.Fs, resolver Resolver, logger *slog.Logger) *Builder {
	return &Builder{
		fs:       fs,
		resolver: resolver,
		logger:   logger,
	}
}

// Build resolves every archive in dir. Only reads are performed.
func (b *Builder) Build(dir string) (*Inventory, error) {
	names, err := Discover(b.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list mods directory: %w", err)
	}

	inv := New()
	for _, name := range names {
		md, modTime, err := b.resolver.ResolveFile(b.fs, filepath.Join(dir, name))
		if err != nil {
			b.logger.Warn("failed to read archive", "file", name, "error", err)
			inv.Unresolved = append(inv.Unresolved, name)
			continue
		}

		if md.ID == "" {
			b.logger.Warn("mod id not found, archive will be left untouched", "file", name)
			inv.Unresolved = append(inv.Unresolved, name)
			continue
		}

		if md.Version == "" {
			b.logger.Debug("mod version not found", "file", name, "id", md.ID)
		}

		inv.Add(md.ID, File{
			Name:    name,
			Version: md.Version,
			ModTime: modTime,
		})
	}

	b.logger.Info("scanned mods directory",
		"dir", dir,
		"archives", len(names),
		"resolved", inv.Count(),
		"unresolved", len(inv.Unresolved))

	return inv, nil
}

// Exists reports whether dir exists and is a directory
func Exists(fs afero.Fs, dir string) (bool, error) {
	info, err := fs.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}
