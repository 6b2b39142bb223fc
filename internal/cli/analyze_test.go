package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/matzehuels/cratestatus/pkg/analysis"
	"github.com/matzehuels/cratestatus/pkg/status"
)

const offlineConfig = "../../examples/offline/cratestatus.toml"

func TestAnalyzeOfflineCrate(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	out, err := execute(t, "analyze", "crate:widgets", "--config", offlineConfig, "--json")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	var res analysis.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(res.Manifests) != 1 || res.Manifests[0].Version != "0.9.0" {
		t.Fatalf("manifests = %+v, want widgets 0.9.0 (1.0.0 is yanked)", res.Manifests)
	}
	if res.Summary.Severity != status.Insecure || res.Summary.Total != 2 || res.Summary.Insecure != 1 {
		t.Errorf("summary = %+v", res.Summary)
	}
}

func TestAnalyzeOfflineText(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	out, err := execute(t, "analyze", "crate:widgets@0.9.0", "--config", offlineConfig, "--dev")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for _, want := range []string{"crates.io/widgets@0.9.0", "RUSTSEC-2019-0009", "3 dependencies"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestAnalyzeFailOn(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	_, err := execute(t, "analyze", "crate:widgets", "--config", offlineConfig, "--fail-on", "outdated")
	if err == nil || !strings.Contains(err.Error(), "insecure") {
		t.Errorf("--fail-on outdated: err = %v", err)
	}

	_, err = execute(t, "analyze", "crate:widgets@1.0.0", "--config", offlineConfig)
	if err != nil {
		t.Errorf("yanked releases can still be analyzed by exact version: %v", err)
	}

	_, err = execute(t, "analyze", "crate:widgets@2.0.0", "--config", offlineConfig)
	if err == nil {
		t.Error("unknown version should fail")
	}
}
