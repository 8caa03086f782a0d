package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"chunkwise/internal/logging"
)

func TestLogsPrintsTrailingLines(t *testing.T) {
	env := setupCLITestEnv(t)
	path := logging.LogFilePath(env.cfg)
	if err := os.MkdirAll(env.cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := "run_id=aaa one\nrun_id=bbb two\nrun_id=aaa three\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, env, "logs", "-n", "2")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "run_id=bbb two\nrun_id=aaa three\n" {
		t.Fatalf("unexpected output %q", out)
	}

	out, _, err = runCLI(t, env, "logs", "--run", "aaa")
	if err != nil {
		t.Fatalf("logs --run: %v", err)
	}
	if strings.Contains(out, "bbb") || !strings.Contains(out, "one") {
		t.Fatalf("run filter not applied: %q", out)
	}
}

func TestTestNotify(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, env, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Notifications disabled")

	var title string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		title = r.Header.Get("Title")
	}))
	defer server.Close()

	env.cfg.Notifications.NtfyTopic = server.URL
	writeTestConfig(t, env.configPath, env.cfg)
	out, _, err = runCLI(t, env, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Test notification sent")
	if title != "chunkwise - Test" {
		t.Fatalf("unexpected title %q", title)
	}
}
