package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/forceupdate"
	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/remote"
	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/sync"
	"gopkg.in/yaml.v3"
)

func samplePlan() *sync.Plan {
	return &sync.Plan{
		Actions: []sync.Action{
			{Kind: sync.ActionDelete, ModID: "jei", Filename: "jei-0.9.jar", Reason: sync.ReasonOutdated},
			{Kind: sync.ActionFetch, ModID: "jei", Filename: "jei-1.0.jar", Channel: remote.ChannelCommon, Reason: sync.ReasonOutdated},
		},
		Log: forceupdate.Log{"create": "t1"},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{"YAML", FormatYAML, false},
		{" json ", FormatJSON, false},
		{"xml", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrUnknownFormat) {
			t.Errorf("ParseFormat(%q) error should wrap ErrUnknownFormat", tt.in)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWrite_Table(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, samplePlan(), FormatTable); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// headers and footers are upper-cased by the table style
	out := strings.ToLower(buf.String())
	for _, want := range []string{"jei-0.9.jar", "jei-1.0.jar", "delete", "fetch", "common", "1 delete, 1 fetch"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestWrite_TableEmptyPlan(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, &sync.Plan{}, FormatTable); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !strings.Contains(buf.String(), "up to date") {
		t.Errorf("unexpected output for empty plan: %q", buf.String())
	}
}

func TestWrite_YAML(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, samplePlan(), FormatYAML); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var got struct {
		Actions []map[string]string `yaml:"actions"`
		Log     map[string]string   `yaml:"force_update_log"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if len(got.Actions) != 2 || got.Actions[1]["filename"] != "jei-1.0.jar" {
		t.Fatalf("unexpected actions: %+v", got.Actions)
	}
	if _, ok := got.Actions[0]["channel"]; ok {
		t.Error("empty channel should be omitted")
	}
	if got.Log["create"] != "t1" {
		t.Errorf("unexpected log: %v", got.Log)
	}
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, samplePlan(), FormatJSON); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var got sync.Plan
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if got.Count(sync.ActionDelete) != 1 || got.Actions[0].Reason != sync.ReasonOutdated {
		t.Errorf("unexpected plan: %+v", got)
	}
}

func TestWrite_UnknownFormat(t *testing.T) {
	if err := Write(&bytes.Buffer{}, samplePlan(), Format("xml")); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Write() error = %v, want ErrUnknownFormat", err)
	}
}
