package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"testing"

	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/remote"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockClient serves canned bodies by URL.
type mockClient struct {
	bodies map[string]string
	calls  []string
}

func (m *mockClient) Get(_ context.Context, url string) ([]byte, error) {
	m.calls = append(m.calls, url)
	body, ok := m.bodies[url]
	if !ok {
		return nil, fmt.Errorf("%s: %w", url, remote.ErrNotFound)
	}
	return []byte(body), nil
}

func (m *mockClient) Download(_ context.Context, _ string, _ io.Writer) (int64, error) {
	return 0, fmt.Errorf("not implemented")
}

func TestParse(t *testing.T) {
	data := []byte(`jei 15.2.0 jei-1.20.1-forge-15.2.0.jar

  create   0.5.1   create-1.20.1-0.5.1.jar
broken line
too many fields here now
onlyid
`)

	got := Parse(data, remote.ChannelCommon)
	want := Catalog{
		"jei":    {ID: "jei", Version: "15.2.0", Filename: "jei-1.20.1-forge-15.2.0.jar", Channel: remote.ChannelCommon},
		"create": {ID: "create", Version: "0.5.1", Filename: "create-1.20.1-0.5.1.jar", Channel: remote.ChannelCommon},
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Parse() = %+v, want %+v", got, want)
	}
}

func TestParse_CRLF(t *testing.T) {
	got := Parse([]byte("a 1 a.jar\r\nb 2 b.jar\r\n"), remote.ChannelClient)
	if got["b"].Filename != "b.jar" {
		t.Errorf("filename = %q, want b.jar", got["b"].Filename)
	}
}

func TestChannels(t *testing.T) {
	if got := Channels(false); !reflect.DeepEqual(got, []remote.Channel{remote.ChannelCommon, remote.ChannelClient}) {
		t.Errorf("Channels(false) = %v", got)
	}
	if got := Channels(true); !reflect.DeepEqual(got, []remote.Channel{remote.ChannelCommon, remote.ChannelClient, remote.ChannelOptional}) {
		t.Errorf("Channels(true) = %v", got)
	}
}

func TestMergeAll_LaterChannelWins(t *testing.T) {
	layout := remote.Layout{Base: "http://catalog"}
	client := &mockClient{bodies: map[string]string{
		layout.ManifestURL(remote.ChannelCommon):   "shared 1.0 shared-1.0.jar\ncore 2.0 core.jar\n",
		layout.ManifestURL(remote.ChannelClient):   "shared 1.1 shared-1.1.jar\nhud 3.0 hud.jar\n",
		layout.ManifestURL(remote.ChannelOptional): "hud 3.1 hud-extra.jar\n",
	}}

	f := NewFetcher(client, layout, testLogger())
	cat, failed := f.MergeAll(context.Background(), Channels(true))
	if len(failed) != 0 {
		t.Errorf("unexpected failed channels: %v", failed)
	}

	if len(cat) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(cat), cat)
	}
	if e := cat["shared"]; e.Version != "1.1" || e.Channel != remote.ChannelClient {
		t.Errorf("shared = %+v, want client 1.1", e)
	}
	if e := cat["hud"]; e.Filename != "hud-extra.jar" || e.Channel != remote.ChannelOptional {
		t.Errorf("hud = %+v, want optional hud-extra.jar", e)
	}
	if e := cat["core"]; e.Channel != remote.ChannelCommon {
		t.Errorf("core = %+v, want common", e)
	}
}

func TestMergeAll_FailedChannelIsReported(t *testing.T) {
	layout := remote.Layout{Base: "http://catalog"}
	client := &mockClient{bodies: map[string]string{
		layout.ManifestURL(remote.ChannelClient): "hud 3.0 hud.jar\n",
	}}

	f := NewFetcher(client, layout, testLogger())
	cat, failed := f.MergeAll(context.Background(), Channels(false))

	if len(cat) != 1 || cat["hud"].Version != "3.0" {
		t.Errorf("unexpected catalog: %+v", cat)
	}
	if !reflect.DeepEqual(failed, []remote.Channel{remote.ChannelCommon}) {
		t.Errorf("failed = %v, want [common]", failed)
	}
	if len(client.calls) != 2 {
		t.Errorf("expected both channels requested, got %v", client.calls)
	}
}

func TestIDs(t *testing.T) {
	cat := Catalog{"b": {}, "a": {}, "c": {}}
	if got := cat.IDs(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("IDs() = %v", got)
	}
}
