// Package modmeta resolves the mod identifier and version of a jar archive.
//
// Resolution runs an ordered chain of strategies. Each strategy inspects the
// archive and may fill the identifier, the version, or both; a field keeps the
// value from the first strategy that produced it. A failing strategy is logged
// and skipped.
package modmeta

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
)

const (
	// ManifestPath is the jar manifest holding build attributes
	ManifestPath = "META-INF/MANIFEST.MF"
	// JarJarMetadataPath lists jars bundled inside a jar
	JarJarMetadataPath = "META-INF/jarjar/metadata.json"
	// LoaderPropertiesSuffix matches language loader property files at any depth
	LoaderPropertiesSuffix = "loader.properties"

	// JarVersionPlaceholder makes the descriptor inherit the manifest version
	JarVersionPlaceholder = "${file.jarVersion}"
	// BundledArtifact is the artifact name of the real mod inside a bundle jar
	BundledArtifact = "kffmod"
	// UnknownID is assigned when a pinned jar is referenced but unreadable
	UnknownID = "unknown"

	// maxNestedSize bounds how much of a nested jar is read into memory
	maxNestedSize = 256 << 20
)

// DescriptorPaths are the mod descriptors tried in order.
var DescriptorPaths = []string{
	"META-INF/mods.toml",
	"META-INF/neoforge.mods.toml",
}

var errNestedTooLarge = errors.New("nested archive exceeds size limit")

// Metadata is the resolved identity of an archive. Empty fields are unresolved.
type Metadata struct {
	ID      string
	Version string
}

// Complete reports whether both fields are resolved.
func (m Metadata) Complete() bool {
	return m.ID != "" && m.Version != ""
}

// fill copies fields from o that are still unresolved in m.
func (m *Metadata) fill(o Metadata) {
	if m.ID == "" {
		m.ID = o.ID
	}
	if m.Version == "" {
		m.Version = o.Version
	}
}

// Strategy is one step of the resolution chain.
type Strategy struct {
	Name    string
	Resolve func(zr *zip.Reader) (Metadata, error)
}

// Resolver runs a strategy chain against archives.
type Resolver struct {
	logger     *slog.Logger
	strategies []Strategy
}

// NewResolver creates a resolver with the default strategy chain
func NewResolver(logger *slog.Logger) *Resolver {
	r := &Resolver{logger: logger}
	r.strategies = []Strategy{
		{Name: "descriptor", Resolve: descriptorStrategy},
		{Name: "manifest", Resolve: manifestStrategy},
		{Name: "pinned-jar", Resolve: r.pinnedJarStrategy},
		{Name: "bundled-jar", Resolve: r.bundledJarStrategy},
	}
	return r
}

// NewResolverWithStrategies creates a resolver running the given chain.
func NewResolverWithStrategies(logger *slog.Logger, strategies []Strategy) *Resolver {
	return &Resolver{logger: logger, strategies: strategies}
}

// Resolve reads the archive named name from r and returns whatever the chain
// could resolve. It never fails; unreadable archives resolve to nothing.
func (r *Resolver) Resolve(name string, ra io.ReaderAt, size int64) Metadata {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		r.logger.Warn("failed to open archive", "archive", name, "error", err)
		return Metadata{}
	}

	var md Metadata
	for _, s := range r.strategies {
		got, err := s.Resolve(zr)
		if err != nil {
			r.logger.Warn("metadata strategy failed", "archive", name, "strategy", s.Name, "error", err)
			continue
		}
		if got != (Metadata{}) {
			r.logger.Debug("metadata strategy matched",
				"archive", name,
				"strategy", s.Name,
				"id", got.ID,
				"version", got.Version)
		}
		md.fill(got)
		if md.Complete() {
			break
		}
	}

	return md
}

// ResolveFile opens the archive at path on fs and resolves it. Only opening
// or stating the file can fail; the returned time is its modification time.
func (r *Resolver) ResolveFile(fs afero.Fs, path string) (Metadata, time.Time, error) {
	f, err := fs.Open(path)
	if err != nil {
		return Metadata{}, time.Time{}, err
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return Metadata{}, time.Time{}, err
	}

	return r.Resolve(filepath.Base(path), f, info.Size()), info.ModTime(), nil
}

// descriptorStrategy reads the first [[mods]] entry of the mod descriptor.
// A placeholder version is left unresolved for manifestStrategy.
func descriptorStrategy(zr *zip.Reader) (Metadata, error) {
	md, err := readDescriptor(zr)
	if err != nil {
		return Metadata{}, err
	}
	if md.Version == JarVersionPlaceholder {
		md.Version = ""
	}
	return md, nil
}

// manifestStrategy resolves the version from MANIFEST.MF when the descriptor
// delegates to it.
func manifestStrategy(zr *zip.Reader) (Metadata, error) {
	md, err := readDescriptor(zr)
	if err != nil || md.Version != JarVersionPlaceholder {
		// descriptorStrategy already reported the error
		return Metadata{}, nil
	}

	version, err := manifestVersion(zr)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{Version: version}, nil
}

// resolveDirect applies the descriptor and manifest strategies to one archive.
// Nested jars are resolved with it.
func resolveDirect(zr *zip.Reader) (Metadata, error) {
	md, err := descriptorStrategy(zr)
	if err != nil {
		return Metadata{}, err
	}
	if md.Version == "" {
		mv, err := manifestStrategy(zr)
		if err != nil {
			return md, err
		}
		md.fill(mv)
	}
	return md, nil
}

// pinnedJarStrategy follows pinnedFile= in a loader.properties file to a jar
// stored inside the archive.
func (r *Resolver) pinnedJarStrategy(zr *zip.Reader) (Metadata, error) {
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), LoaderPropertiesSuffix) {
			continue
		}

		data, err := readEntry(f, maxNestedSize)
		if err != nil {
			return Metadata{}, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}

		pinned, ok := pinnedFile(data)
		if !ok {
			continue
		}

		nested := findEntry(zr, pinned)
		if nested == nil {
			r.logger.Warn("pinned jar not found", "pinned", pinned)
			return Metadata{ID: UnknownID}, nil
		}

		md, err := openNested(nested)
		if err != nil {
			r.logger.Warn("failed to read pinned jar", "pinned", pinned, "error", err)
			return Metadata{ID: UnknownID}, nil
		}
		if md.ID == "" {
			md.ID = UnknownID
		}
		return md, nil
	}

	return Metadata{}, nil
}

type jarJarMetadata struct {
	Jars []struct {
		Identifier struct {
			Group    string `json:"group"`
			Artifact string `json:"artifact"`
		} `json:"identifier"`
		Path string `json:"path"`
	} `json:"jars"`
}

// bundledJarStrategy resolves the bundled mod jar listed in jarjar metadata.
func (r *Resolver) bundledJarStrategy(zr *zip.Reader) (Metadata, error) {
	f := findEntry(zr, JarJarMetadataPath)
	if f == nil {
		return Metadata{}, nil
	}

	data, err := readEntry(f, maxNestedSize)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read %s: %w", JarJarMetadataPath, err)
	}

	var meta jarJarMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse %s: %w", JarJarMetadataPath, err)
	}

	for _, jar := range meta.Jars {
		if jar.Identifier.Artifact != BundledArtifact {
			continue
		}

		nested := findEntry(zr, jar.Path)
		if nested == nil {
			r.logger.Warn("bundled jar not found", "path", jar.Path)
			return Metadata{}, nil
		}
		return openNested(nested)
	}

	return Metadata{}, nil
}

type modsDescriptor struct {
	Mods []struct {
		ModID   string `toml:"modId"`
		Version string `toml:"version"`
	} `toml:"mods"`
}

func readDescriptor(zr *zip.Reader) (Metadata, error) {
	for _, path := range DescriptorPaths {
		f := findEntry(zr, path)
		if f == nil {
			continue
		}

		data, err := readEntry(f, maxNestedSize)
		if err != nil {
			return Metadata{}, fmt.Errorf("failed to read %s: %w", path, err)
		}

		var desc modsDescriptor
		if err := toml.Unmarshal(data, &desc); err != nil {
			return Metadata{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if len(desc.Mods) == 0 {
			return Metadata{}, nil
		}
		return Metadata{ID: desc.Mods[0].ModID, Version: desc.Mods[0].Version}, nil
	}
	return Metadata{}, nil
}

func manifestVersion(zr *zip.Reader) (string, error) {
	f := findEntry(zr, ManifestPath)
	if f == nil {
		return "", nil
	}

	data, err := readEntry(f, maxNestedSize)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", ManifestPath, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if ok && key == "Implementation-Version" {
			return strings.TrimSpace(value), nil
		}
	}
	return "", scanner.Err()
}

// pinnedFile extracts the pinnedFile= value from a properties file, without
// its leading slash.
func pinnedFile(data []byte) (string, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "pinnedFile=") {
			continue
		}
		value := strings.TrimSpace(strings.TrimPrefix(line, "pinnedFile="))
		return strings.TrimPrefix(value, "/"), true
	}
	return "", false
}

func openNested(f *zip.File) (Metadata, error) {
	data, err := readEntry(f, maxNestedSize)
	if err != nil {
		return Metadata{}, err
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to open nested archive %s: %w", f.Name, err)
	}
	return resolveDirect(zr)
}

func findEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rc.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errNestedTooLarge
	}
	return data, nil
}
