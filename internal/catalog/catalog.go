// Package catalog fetches the per-channel mod manifests and merges them into
// the single catalog local archives are reconciled against.
package catalog

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/remote"
)

// Entry is the authoritative remote record for one mod
type Entry struct {
	ID       string         `json:"id" yaml:"id"`
	Filename string         `json:"filename" yaml:"filename"`
	Version  string         `json:"version" yaml:"version"`
	Channel  remote.Channel `json:"channel" yaml:"channel"`
}

// Catalog maps mod identifiers to their entry
type Catalog map[string]Entry

// IDs returns all identifiers in sorted order
func (c Catalog) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Merge copies every entry of other into c, replacing entries that share an
// identifier.
func (c Catalog) Merge(other Catalog) {
	for id, entry := range other {
		c[id] = entry
	}
}

// Channels returns the client channels in merge priority order
func Channels(includeOptional bool) []remote.Channel {
	channels := []remote.Channel{remote.ChannelCommon, remote.ChannelClient}
	if includeOptional {
		channels = append(channels, remote.ChannelOptional)
	}
	return channels
}

// Parse reads a modlist.txt body. Each non-blank line must hold exactly three
// whitespace-separated fields: id, version, filename. Other lines are skipped.
func Parse(data []byte, ch remote.Channel) Catalog {
	cat := make(Catalog)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 {
			continue
		}
		cat[fields[0]] = Entry{
			ID:       fields[0],
			Version:  fields[1],
			Filename: fields[2],
			Channel:  ch,
		}
	}
	return cat
}

// Fetcher retrieves channel manifests from the remote
type Fetcher struct {
	client remote.Client
	layout remote.Layout
	logger *slog.Logger
}

// NewFetcher creates a new catalog fetcher
func NewFetcher(client remote.Client, layout remote.Layout, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client: client,
		layout: layout,
		logger: logger,
	}
}

// FetchChannel returns the parsed manifest of one channel
func (f *Fetcher) FetchChannel(ctx context.Context, ch remote.Channel) (Catalog, error) {
	url := f.layout.ManifestURL(ch)
	data, err := f.client.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch modlist for channel %s: %w", ch, err)
	}

	cat := Parse(data, ch)
	f.logger.Info("fetched modlist", "channel", ch, "mods", len(cat))
	return cat, nil
}

// MergeAll fetches channels in order; later channels override earlier ones.
// A channel whose manifest cannot be fetched contributes nothing and is
// returned in failed.
func (f *Fetcher) MergeAll(ctx context.Context, channels []remote.Channel) (merged Catalog, failed []remote.Channel) {
	merged = make(Catalog)
	for _, ch := range channels {
		cat, err := f.FetchChannel(ctx, ch)
		if err != nil {
			f.logger.Warn("channel unavailable", "channel", ch, "error", err)
			failed = append(failed, ch)
			continue
		}
		merged.Merge(cat)
	}
	return merged, failed
}
