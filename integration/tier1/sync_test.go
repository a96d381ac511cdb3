//go:build integration

package tier1

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/testutil"
)

const (
	// Test paths (relative to the harness root)
	testConfigFile = "modupdaterconfig.json"
	testModsDir    = "mods"
	testLogFile    = "cloud_forced_update_log.json"

	commonList  = "/modfiles/common/modlist.txt"
	clientList  = "/modfiles/client/modlist.txt"
	commonBulk  = "/modfiles/common/mods.zip"
	forceUpdate = "/modfiles/forceupdate.txt"
)

func TestTier1Sync(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)

	// Build binary
	if err := h.BuildBinary(ctx); err != nil {
		t.Fatalf("build binary: %v", err)
	}

	h.StartServer()
	defer h.Cleanup()

	writeConfig(t, h)

	// Run all scenarios as subtests
	t.Run("A_FreshInstall", func(t *testing.T) {
		testFreshInstall(t, h, ctx)
	})

	t.Run("B_NoOpSync", func(t *testing.T) {
		testNoOpSync(t, h, ctx)
	})

	t.Run("C_UpdateOutdatedMod", func(t *testing.T) {
		testUpdateOutdatedMod(t, h, ctx)
	})

	t.Run("D_ForceUpdate", func(t *testing.T) {
		testForceUpdate(t, h, ctx)
	})

	t.Run("E_DryRunMode", func(t *testing.T) {
		testDryRunMode(t, h, ctx)
	})

	t.Run("F_PlanOutput", func(t *testing.T) {
		testPlanOutput(t, h, ctx)
	})
}

// writeConfig writes a config pointing at the harness catalog server
func writeConfig(t *testing.T, h *Harness) {
	t.Helper()
	cfg := map[string]any{
		"url":                h.URL(),
		"updateAll":          false,
		"optionalMods":       false,
		"useVersionChecking": true,
	}
	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.WriteFile(testConfigFile, data); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runSync(t *testing.T, h *Harness, ctx context.Context, extra ...string) {
	t.Helper()
	args := append([]string{"sync", "--yes", "--progress=false", "--config", h.Path(testConfigFile)}, extra...)
	stdout, stderr := h.MustExec(ctx, args...)
	t.Logf("stdout: %s", stdout)
	t.Logf("stderr: %s", stderr)
}

// testFreshInstall provisions an empty mods folder from the bulk archive
func testFreshInstall(t *testing.T, h *Harness, ctx context.Context) {
	h.Publish(commonBulk, testutil.Zip(t, map[string][]byte{
		"jei-1.0.jar":    testutil.ModJar(t, "jei", "1.0"),
		"create-0.5.jar": testutil.ModJar(t, "create", "0.5"),
	}))
	h.Publish(commonList, []byte("jei 1.0 jei-1.0.jar\ncreate 0.5 create-0.5.jar\n"))
	h.Publish(forceUpdate, []byte("create c1\n"))

	runSync(t, h, ctx)

	want := []string{"create-0.5.jar", "jei-1.0.jar"}
	if got := h.ListDir(testModsDir); !reflect.DeepEqual(got, want) {
		t.Errorf("mods folder = %v, want %v", got, want)
	}

	var log map[string]string
	if err := h.ReadJSON(testLogFile, &log); err != nil {
		t.Fatalf("read force-update log: %v", err)
	}
	if log["create"] != "c1" {
		t.Errorf("log = %v, want create=c1 seeded from remote", log)
	}
}

// testNoOpSync verifies an in-sync folder downloads nothing
func testNoOpSync(t *testing.T, h *Harness, ctx context.Context) {
	h.ClearRequests()
	logBefore, err := h.ReadFile(testLogFile)
	if err != nil {
		t.Fatalf("read log before: %v", err)
	}

	runSync(t, h, ctx)

	for _, p := range h.Requests() {
		if strings.HasSuffix(p, ".jar") || strings.HasSuffix(p, ".zip") {
			t.Errorf("no-op sync requested %s", p)
		}
	}

	logAfter, err := h.ReadFile(testLogFile)
	if err != nil {
		t.Fatalf("read log after: %v", err)
	}
	if logBefore != logAfter {
		t.Errorf("log changed on no-op sync:\nbefore: %s\nafter: %s", logBefore, logAfter)
	}
}

// testUpdateOutdatedMod replaces an archive whose version changed
func testUpdateOutdatedMod(t *testing.T, h *Harness, ctx context.Context) {
	h.Publish(commonList, []byte("jei 1.1 jei-1.1.jar\ncreate 0.5 create-0.5.jar\n"))
	h.Publish("/modfiles/common/jei-1.1.jar", testutil.ModJar(t, "jei", "1.1"))

	// A mod the user installed themselves is not in any catalog
	if err := h.WriteFile(testModsDir+"/private.jar", testutil.ModJar(t, "private", "9.9")); err != nil {
		t.Fatal(err)
	}

	runSync(t, h, ctx)

	want := []string{"create-0.5.jar", "jei-1.1.jar", "private.jar"}
	if got := h.ListDir(testModsDir); !reflect.DeepEqual(got, want) {
		t.Errorf("mods folder = %v, want %v", got, want)
	}
}

// testForceUpdate re-downloads a mod once per new token
func testForceUpdate(t *testing.T, h *Harness, ctx context.Context) {
	h.Publish(clientList, []byte("hud 2.0 hud-2.0.jar\n"))
	h.Publish("/modfiles/client/hud-2.0.jar", testutil.ModJar(t, "hud", "2.0"))
	h.Publish("/modfiles/common/create-0.5.jar", testutil.ModJar(t, "create", "0.5"))
	h.Publish(forceUpdate, []byte("create c2\n"))
	h.ClearRequests()

	runSync(t, h, ctx)

	if !h.Requested("/modfiles/common/create-0.5.jar") {
		t.Error("forced mod was not downloaded")
	}
	if !h.FileExists(testModsDir + "/hud-2.0.jar") {
		t.Error("client channel mod was not downloaded")
	}

	var log map[string]string
	if err := h.ReadJSON(testLogFile, &log); err != nil {
		t.Fatalf("read force-update log: %v", err)
	}
	if log["create"] != "c2" {
		t.Errorf("log = %v, want create=c2", log)
	}

	// The same token does not trigger again
	h.ClearRequests()
	runSync(t, h, ctx)
	if h.Requested("/modfiles/common/create-0.5.jar") {
		t.Error("known token triggered another download")
	}
}

// testDryRunMode verifies --dry-run leaves the folder untouched
func testDryRunMode(t *testing.T, h *Harness, ctx context.Context) {
	h.Publish(commonList, []byte("jei 1.2 jei-1.2.jar\ncreate 0.5 create-0.5.jar\n"))
	h.Publish("/modfiles/common/jei-1.2.jar", testutil.ModJar(t, "jei", "1.2"))
	before := h.ListDir(testModsDir)
	h.ClearRequests()

	runSync(t, h, ctx, "--dry-run")

	if got := h.ListDir(testModsDir); !reflect.DeepEqual(got, before) {
		t.Errorf("dry-run changed mods folder: %v -> %v", before, got)
	}
	if h.Requested("/modfiles/common/jei-1.2.jar") {
		t.Error("dry-run downloaded an archive")
	}
}

// testPlanOutput prints the pending update as JSON
func testPlanOutput(t *testing.T, h *Harness, ctx context.Context) {
	stdout, _ := h.MustExec(ctx, "plan", "--config", h.Path(testConfigFile), "--output", "json")

	var plan struct {
		Actions []struct {
			Kind     string `json:"kind"`
			Filename string `json:"filename"`
		} `json:"actions"`
	}
	if err := json.Unmarshal([]byte(stdout), &plan); err != nil {
		t.Fatalf("plan output is not JSON: %v\n%s", err, stdout)
	}

	var kinds []string
	for _, a := range plan.Actions {
		kinds = append(kinds, a.Kind+" "+a.Filename)
	}
	want := []string{"delete jei-1.1.jar", "fetch jei-1.2.jar"}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("plan = %v, want %v", kinds, want)
	}
}
