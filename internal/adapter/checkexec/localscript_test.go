package checkexec

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/imq-dev/imq/internal/domain/check"
	"github.com/imq-dev/imq/internal/domain/pullrequest"
	"github.com/imq-dev/imq/internal/domain/repository"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "check.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func scriptConfig(t *testing.T, script string) check.Configuration {
	t.Helper()
	cfg, err := json.Marshal(localScriptConfig{Script: script})
	if err != nil {
		t.Fatal(err)
	}
	return check.Configuration{ID: "lint", Name: "lint", Kind: check.KindLocalScript, KindConfig: cfg}
}

func TestLocalScriptExecutorPassesOnZeroExit(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\necho ok\nexit 0\n")
	e := LocalScriptExecutor{}
	res, err := e.Execute(context.Background(), scriptConfig(t, script), repository.Repository{Owner: "acme", Name: "widgets"}, pullrequest.PullRequest{Number: 1, HeadSHA: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != check.StatusPassed {
		t.Fatalf("expected passed, got %s (output %q)", res.Status, res.Output)
	}
}

func TestLocalScriptExecutorFailsOnNonZeroExit(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\necho boom 1>&2\nexit 1\n")
	e := LocalScriptExecutor{}
	res, err := e.Execute(context.Background(), scriptConfig(t, script), repository.Repository{}, pullrequest.PullRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != check.StatusFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
}

func TestLocalScriptExecutorTimesOut(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\nsleep 5\n")
	cfg := scriptConfig(t, script)
	cfg.Timeout = 50 * time.Millisecond
	e := LocalScriptExecutor{}
	res, err := e.Execute(context.Background(), cfg, repository.Repository{}, pullrequest.PullRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != check.StatusTimedOut {
		t.Fatalf("expected timed_out, got %s", res.Status)
	}
}

func TestLocalScriptExecutorMissingScript(t *testing.T) {
	e := LocalScriptExecutor{}
	_, err := e.Execute(context.Background(), scriptConfig(t, "/nonexistent/script.sh"), repository.Repository{}, pullrequest.PullRequest{})
	if err == nil {
		t.Fatal("expected ScriptNotFound error")
	}
}

func TestLocalScriptExecutorOverlaysEnv(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\necho $IMQ_PR_NUMBER-$IMQ_PR_SHA-$IMQ_REPO_OWNER\n")
	e := LocalScriptExecutor{}
	res, err := e.Execute(context.Background(), scriptConfig(t, script),
		repository.Repository{Owner: "acme", Name: "widgets"},
		pullrequest.PullRequest{Number: 7, HeadSHA: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != check.StatusPassed {
		t.Fatalf("expected passed, got %s (%q)", res.Status, res.Output)
	}
}
