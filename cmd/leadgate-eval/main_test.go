package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_SampleFilePasses(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-file", "testdata/sample-leads.json"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stdout:\n%s\nstderr:\n%s", code, stdout.String(), stderr.String())
	}
	if !strings.Contains(stdout.String(), "passed (100.0%)") {
		t.Errorf("missing summary line:\n%s", stdout.String())
	}
}

func TestRun_SingleCaseVerbose(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-file", "testdata/sample-leads.json", "-case", "2", "-v"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d\n%s", code, stdout.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "PASS case 2") || strings.Contains(out, "case 1:") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "approval: expected true, got true") {
		t.Errorf("verbose details missing:\n%s", out)
	}
}

func TestRun_FailingCaseExitsOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.json")
	data := `[{"id": 1, "category": "wrong label",
		"input": {"email": "ops@widgets.com", "company": "Widgets"},
		"expected": {"tier": "qualified", "approval_required": false}}]`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-file", path}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stdout.String(), "FAIL case 1") {
		t.Errorf("missing FAIL line:\n%s", stdout.String())
	}
}

func TestRun_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing file", []string{"-file", "testdata/nope.json"}},
		{"unknown case", []string{"-file", "testdata/sample-leads.json", "-case", "999"}},
		{"bad flag", []string{"-bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code != 2 {
				t.Errorf("exit code = %d, want 2", code)
			}
		})
	}
}
