package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/inventory"
	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/remote"
	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

// maxBulkArchives bounds the bulk archive scan
const maxBulkArchives = 100

// applyPlan executes the actions in order. A failing action is logged and
// skipped; the remaining actions still run.
func (e *Engine) applyPlan(ctx context.Context, plan *Plan) ([]Action, error) {
	var result *multierror.Error
	var failed []Action

	for _, a := range plan.Actions {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}

		var err error
		switch a.Kind {
		case ActionDelete:
			err = e.deleteFile(a)
		case ActionFetch:
			err = e.fetchFile(ctx, a)
		case ActionBulkFetch:
			err = e.provisionChannel(ctx, a.Channel)
		default:
			err = fmt.Errorf("unknown action kind %q", a.Kind)
		}

		if err != nil {
			e.logger.Error("action failed",
				"kind", a.Kind,
				"file", a.Filename,
				"channel", a.Channel,
				"error", err)
			failed = append(failed, a)
			result = multierror.Append(result, fmt.Errorf("failed to %s %s: %w", a.Kind, actionTarget(a), err))
		}
	}

	return failed, result.ErrorOrNil()
}

func (e *Engine) deleteFile(a Action) error {
	if !validFilename(a.Filename) {
		return fmt.Errorf("invalid file name %q", a.Filename)
	}

	dst := filepath.Join(e.cfg.ModsDir, a.Filename)
	if err := e.fs.Remove(dst); err != nil {
		if os.IsNotExist(err) {
			e.logger.Warn("file to delete not found", "file", a.Filename)
			return nil
		}
		return err
	}

	e.logger.Info("deleted mod file", "file", a.Filename, "id", a.ModID, "reason", a.Reason)
	return nil
}

func (e *Engine) fetchFile(ctx context.Context, a Action) error {
	if !validFilename(a.Filename) {
		return fmt.Errorf("invalid file name %q", a.Filename)
	}

	url := e.layout.ArchiveURL(a.Channel, a.Filename)
	e.logger.Info("downloading mod", "file", a.Filename, "id", a.ModID, "channel", a.Channel, "reason", a.Reason)

	dst := filepath.Join(e.cfg.ModsDir, a.Filename)
	return e.writeAtomic(dst, func(w io.Writer) error {
		_, err := e.client.Download(ctx, url, w)
		return err
	})
}

// provisionChannel downloads the channel's bulk archives and extracts their
// mod archives into the mods directory. A missing mods.zip falls through to
// mods1.zip; any later miss ends the scan.
func (e *Engine) provisionChannel(ctx context.Context, ch remote.Channel) error {
	extracted := 0
	for index := 0; index < maxBulkArchives; index++ {
		name := remote.BulkArchiveName(index)
		url := e.layout.BulkArchiveURL(ch, index)

		tmpPath, err := e.downloadTemp(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, remote.ErrNotFound) {
				e.logger.Debug("bulk archive not found", "channel", ch, "archive", name)
			} else {
				e.logger.Warn("failed to download bulk archive", "channel", ch, "archive", name, "error", err)
			}
			if index == 0 {
				continue
			}
			break
		}

		n, err := e.extractArchive(tmpPath)
		_ = e.fs.Remove(tmpPath)
		if err != nil {
			return fmt.Errorf("failed to extract %s: %w", name, err)
		}

		e.logger.Info("extracted bulk archive", "channel", ch, "archive", name, "mods", n)
		extracted += n
	}

	if extracted == 0 {
		e.logger.Warn("no mods provisioned for channel", "channel", ch)
	}
	return nil
}

// downloadTemp downloads url into a hidden temp file in the mods directory
func (e *Engine) downloadTemp(ctx context.Context, url string) (string, error) {
	tmp, err := afero.TempFile(e.fs, e.cfg.ModsDir, ".modupdater-bulk-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := e.client.Download(ctx, url, tmp); err != nil {
		_ = tmp.Close()
		_ = e.fs.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = e.fs.Remove(tmpPath)
		return "", err
	}
	return tmpPath, nil
}

// extractArchive writes every mod archive inside the zip at archivePath into
// the mods directory, flattening any directory structure.
func (e *Engine) extractArchive(archivePath string) (int, error) {
	f, err := e.fs.Open(archivePath)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return 0, err
	}

	n := 0
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}

		name := path.Base(entry.Name)
		if !inventory.IsArchive(name) {
			e.logger.Debug("skipping non-mod entry", "entry", entry.Name)
			continue
		}
		if !validFilename(name) {
			e.logger.Warn("skipping entry with unsafe name", "entry", entry.Name)
			continue
		}

		if err := e.writeAtomic(filepath.Join(e.cfg.ModsDir, name), func(w io.Writer) error {
			return copyEntry(w, entry)
		}); err != nil {
			return n, fmt.Errorf("failed to extract %s: %w", entry.Name, err)
		}
		n++
	}
	return n, nil
}

func copyEntry(w io.Writer, entry *zip.File) error {
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer func() {
		_ = rc.Close()
	}()

	_, err = io.Copy(w, rc)
	return err
}

// writeAtomic fills a temp file next to dst with write and renames it into place
func (e *Engine) writeAtomic(dst string, write func(io.Writer) error) error {
	tmpFile, err := afero.TempFile(e.fs, filepath.Dir(dst), ".modupdater-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = e.fs.Remove(tmpPath)
	}() // cleanup on error

	if err := write(tmpFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	// Atomic rename
	return e.fs.Rename(tmpPath, dst)
}

// validFilename rejects names that would escape the mods directory
func validFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

func actionTarget(a Action) string {
	if a.Kind == ActionBulkFetch {
		return "channel " + string(a.Channel)
	}
	return a.Filename
}
