package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// newTestConfig lays out a small site with its data and returns the config
// path and the output directory.
func newTestConfig(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	site := filepath.Join(root, "site")
	output := filepath.Join(root, "public")

	writeFiles(t, site, map[string]string{
		"index.html":         `<html><body><span id="total-points">0</span><span id="goal-text"></span><span id="target-text"></span></body></html>`,
		"trade.html":         `<html><body><div id="trade-list"><p>Loading...</p></div></body></html>`,
		"css/style.css":      `body {}`,
		"json/members.json":  `{"m1": {"id": "m1", "name": "Alice", "personalPoints": 4, "totalTasksCompleted": 1}}`,
		"json/trade.json":    `[{"title": "Bike", "description": "Old bike", "performerID": "m1", "pointValue": 10}]`,
		"json/green.json":    `[]`,
		"json/communal.json": `[]`,
		"json/settings.json": `{"communityPoints": 120, "communityGoal": "Playground", "targetPoints": 500}`,
	})

	cfg := `source:
  driver: file
  dir: ` + site + `
history:
  sqlite_path: ` + filepath.Join(root, "history.db") + `
site:
  dir: ` + site + `
  output: ` + output + `
telemetry:
  log_level: error
`
	path := filepath.Join(root, "config.yaml")
	writeFiles(t, root, map[string]string{"config.yaml": cfg})
	return path, output
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Errorf("version output = %q, want %q", out, version)
	}
}

func TestRenderCmd(t *testing.T) {
	cfgPath, output := newTestConfig(t)

	out, err := execute(t, "render", "--config", cfgPath)
	if err != nil {
		t.Fatalf("render error = %v", err)
	}
	if !strings.Contains(out, "published 2 pages and 6 files") {
		t.Errorf("render output = %q", out)
	}

	trade, err := os.ReadFile(filepath.Join(output, "trade.html"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(trade), "Offered by: <strong>Alice</strong>") {
		t.Errorf("trade.html not rendered:\n%s", trade)
	}
	index, err := os.ReadFile(filepath.Join(output, "index.html"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`<span id="total-points">120</span>`,
		`<span id="goal-text">Playground</span>`,
		`<span id="target-text">500</span>`,
	} {
		if !strings.Contains(string(index), want) {
			t.Errorf("index.html missing %s:\n%s", want, index)
		}
	}

	out, err = execute(t, "history", "--config", cfgPath, "--type", "site.published")
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	if strings.Count(out, "site.published") != 1 {
		t.Errorf("history output = %q, want one site.published row", out)
	}
}

func TestRenderCmd_Strict(t *testing.T) {
	cfgPath, _ := newTestConfig(t)
	site := filepath.Join(filepath.Dir(cfgPath), "site")
	if err := os.Remove(filepath.Join(site, "json", "trade.json")); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "render", "--config", cfgPath)
	if err != nil {
		t.Fatalf("render error = %v", err)
	}
	if !strings.Contains(out, "1 sections failed") {
		t.Errorf("render output = %q, want failure summary", out)
	}

	if _, err := execute(t, "render", "--config", cfgPath, "--strict"); err == nil {
		t.Error("render --strict succeeded with a failed section")
	}
}

func TestHistoryCmd_UnknownType(t *testing.T) {
	if _, err := execute(t, "history", "--type", "bogus"); err == nil {
		t.Error("history --type bogus succeeded")
	}
}

func TestLedgerCmds(t *testing.T) {
	cfgPath, _ := newTestConfig(t)
	site := filepath.Join(filepath.Dir(cfgPath), "site")
	writeFiles(t, site, map[string]string{
		"json/members.json":  `{"m1": {"id": "m1", "name": "Alice", "personalPoints": 4, "totalTasksCompleted": 1}, "m2": {"id": "m2", "name": "Bob", "personalPoints": 20, "totalTasksCompleted": 0}}`,
		"json/trade.json":    `[{"id": "t1", "title": "Bike", "description": "Old bike", "performerID": "m1", "type": "TRADE_GOODS", "pointValue": 10}]`,
		"json/communal.json": `[{"id": "c1", "title": "Paint", "description": "Fence", "deadline": "2026-11-01", "pointValue": 5}]`,
	})

	if _, err := execute(t, "complete", "trade", "t1", "--receiver", "m1", "--config", cfgPath); err == nil {
		t.Error("complete trade with the performer as receiver succeeded")
	}

	out, err := execute(t, "complete", "trade", "t1", "--receiver", "m2", "--config", cfgPath)
	if err != nil {
		t.Fatalf("complete trade error = %v", err)
	}
	if !strings.Contains(out, "Bike: 10 points from m2 to m1") {
		t.Errorf("complete trade output = %q", out)
	}

	if _, err := execute(t, "complete", "communal", "c1", "--performer", "m2", "--config", cfgPath); err != nil {
		t.Fatalf("complete communal error = %v", err)
	}

	out, err = execute(t, "green", "add", "--title", "Compost", "--description", "Scraps", "--points", "6", "--config", cfgPath)
	if err != nil {
		t.Fatalf("green add error = %v", err)
	}
	if !strings.Contains(out, "community points now 126") {
		t.Errorf("green add output = %q", out)
	}

	members, err := os.ReadFile(filepath.Join(site, "json", "members.json"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"personalPoints": 14`, `"personalPoints": 15`, `"totalTasksCompleted": 1`} {
		if !strings.Contains(string(members), want) {
			t.Errorf("members.json missing %s:\n%s", want, members)
		}
	}
	trade, err := os.ReadFile(filepath.Join(site, "json", "trade.json"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(trade)) != "[]" {
		t.Errorf("trade.json = %s, want the completed offer removed", trade)
	}

	out, err = execute(t, "history", "--config", cfgPath, "--aggregate", "m2")
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(out, "points.deducted") || !strings.Contains(out, "points.awarded") {
		t.Errorf("history output = %q, want a deduction and an award for m2", out)
	}
}

func TestPublishCmd_NonPositiveInterval(t *testing.T) {
	cfgPath, _ := newTestConfig(t)
	for _, interval := range []string{"0s", "-1m"} {
		_, err := execute(t, "publish", "--config", cfgPath, "--interval="+interval)
		if err == nil || !strings.Contains(err.Error(), "must be positive") {
			t.Errorf("publish --interval %s error = %v, want a positive interval error", interval, err)
		}
	}
}
