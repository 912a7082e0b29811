package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleRules = `[
  {"keywords": ["chest pain"], "risk": "high", "title": "Possible Heart Attack", "message": "Call emergency services."},
  {"keywords": ["cough"], "risk": "low", "title": "Cough", "message": "Stay hydrated."}
]`

// setupEnv points the CLI at temp rule/history files with calls disabled.
func setupEnv(t *testing.T) (rulesPath, historyPath string) {
	t.Helper()
	dir := t.TempDir()
	rulesPath = filepath.Join(dir, "rules.json")
	historyPath = filepath.Join(dir, "history.json")
	if err := os.WriteFile(rulesPath, []byte(sampleRules), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "POSTGRES_DSN", "CLICKHOUSE_DSN", "REDIS_ADDR", "EXTRACT_ENDPOINT", "MEDALERT_COOLDOWN_S"} {
		t.Setenv(k, "")
	}
	t.Setenv("MEDALERT_RULES_PATH", rulesPath)
	t.Setenv("MEDALERT_HISTORY_PATH", historyPath)
	t.Setenv("MEDALERT_LOG_LEVEL", "error")
	rootFlags.configPath = filepath.Join(dir, "absent.yaml")
	return rulesPath, historyPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRulesCommand(t *testing.T) {
	rulesPath, _ := setupEnv(t)
	rulesFlags.path, rulesFlags.strict = "", false

	out, err := execute(t, "rules")
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	if !strings.Contains(out, "Possible Heart Attack") || !strings.Contains(out, "2 rule(s) from "+rulesPath) {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestRulesCommand_Strict(t *testing.T) {
	setupEnv(t)
	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte(`[{"risk": "high"}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, "rules", "--strict", "--path", bad)
	if err == nil {
		t.Error("expected strict validation to fail")
	}

	rulesFlags.strict = false
	out, err := execute(t, "rules", "--path", bad)
	if err != nil {
		t.Fatalf("lenient load should not fail: %v", err)
	}
	if !strings.Contains(out, "0 rule(s)") {
		t.Errorf("malformed file should load as empty:\n%s", out)
	}
	rulesFlags.path = ""
}

func TestAnalyzeCommand_DryRun(t *testing.T) {
	_, historyPath := setupEnv(t)
	analyzeFlags.dryRun = false

	out, err := execute(t, "analyze", "--dry-run", "sudden", "chest", "pain")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	var got struct {
		Advice struct {
			Title string `json:"title"`
			Risk  string `json:"risk"`
		} `json:"advice"`
		Trace    []string `json:"trace"`
		Dispatch struct {
			Status   string `json:"status"`
			IsDryRun bool   `json:"is_dry_run"`
		} `json:"dispatch"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Advice.Risk != "high" || got.Advice.Title != "Possible Heart Attack" {
		t.Errorf("unexpected advice %+v", got.Advice)
	}
	if got.Dispatch.Status != "success" || !got.Dispatch.IsDryRun {
		t.Errorf("expected simulated dispatch, got %+v", got.Dispatch)
	}
	if got.Trace[len(got.Trace)-1] != "DONE" {
		t.Errorf("unexpected trace %v", got.Trace)
	}
	if _, err := os.Stat(historyPath); err != nil {
		t.Errorf("history file should exist: %v", err)
	}
}

func TestAnalyzeCommand_Stdin(t *testing.T) {
	setupEnv(t)
	analyzeFlags.dryRun = false
	rootCmd.SetIn(strings.NewReader("just a cough"))
	defer rootCmd.SetIn(nil)

	out, err := execute(t, "analyze")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.Contains(out, `"risk": "low"`) || strings.Contains(out, `"dispatch"`) {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestTestCallCommand_DryRun(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "test-call", "--reason", "drill")
	if err != nil {
		t.Fatalf("test-call: %v", err)
	}
	if !strings.Contains(out, "dry_run=true") {
		t.Errorf("expected dry run output:\n%s", out)
	}
}

func TestAnalyzeCommand_IDAboveStoredHistory(t *testing.T) {
	_, historyPath := setupEnv(t)
	analyzeFlags.dryRun = false

	future := time.Now().Add(time.Hour).UnixMilli()
	seed := fmt.Sprintf(`[{"id": %d, "text": "earlier", "timestamp": "09:00:00", "date": "2026-01-01", "advice": {"title": "Cough", "message": "Stay hydrated.", "risk": "low"}}]`, future)
	if err := os.WriteFile(historyPath, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "analyze", "a", "cough")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var got struct {
		EntryID int64 `json:"entry_id"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.EntryID <= future {
		t.Errorf("entry id %d does not exceed stored id %d", got.EntryID, future)
	}
}
