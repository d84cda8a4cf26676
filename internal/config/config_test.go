package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"taskpipe/internal/faults"
)

var envKeys = []string{
	"APP_ENV", "TASK_COUNT", "CONCURRENCY_LIMIT", "TASK_DELAY", "TASK_FAIL_IDS", "SINKS",
	"OUTPUT_PATH", "YAML_OUTPUT_PATH", "STATE_DB_PATH", "DATABASE_URL",
	"SINK_HTTP_URL", "SINK_HTTP_TOKEN", "SINK_HTTP_AUTH_HEADER", "SINK_HTTP_VERIFY_TLS",
	"S3_ENDPOINT", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_BUCKET", "S3_REGION", "S3_PREFIX", "S3_USE_SSL",
	"LOG_LEVEL", "LOG_FORMAT", "TASKPIPE_CONFIG",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "dev" || cfg.TaskCount != 5 || cfg.ConcurrencyLimit != 2 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.TaskDelay != 500*time.Millisecond {
		t.Fatalf("want 500ms delay, got %s", cfg.TaskDelay)
	}
	if len(cfg.Sinks) != 1 || cfg.Sinks[0] != SinkJSON || cfg.OutputPath != "sink_output.json" {
		t.Fatalf("unexpected sinks: %v %s", cfg.Sinks, cfg.OutputPath)
	}
	if md := cfg.Metadata(); len(md) != 1 || md["env"] != "dev" {
		t.Fatalf("unexpected metadata: %v", md)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "prod")
	t.Setenv("TASK_COUNT", "8")
	t.Setenv("CONCURRENCY_LIMIT", "3")
	t.Setenv("TASK_DELAY", "10ms")
	t.Setenv("TASK_FAIL_IDS", "4, 1,4")
	t.Setenv("SINKS", "JSON, yaml ,json")

	cfg, err := LoadFrom("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "prod" || cfg.TaskCount != 8 || cfg.ConcurrencyLimit != 3 || cfg.TaskDelay != 10*time.Millisecond {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.FailTaskIDs) != 2 || cfg.FailTaskIDs[0] != 1 || cfg.FailTaskIDs[1] != 4 {
		t.Fatalf("unexpected fail ids: %v", cfg.FailTaskIDs)
	}
	if strings.Join(cfg.Sinks, ",") != "json,yaml" {
		t.Fatalf("unexpected sinks: %v", cfg.Sinks)
	}
}

func TestLoadFromFileEnvTakesPrecedence(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "taskpipe.toml")
	content := `
env = "staging"
task_count = 3
concurrency_limit = 4
task_delay = "1s"
sinks = ["json", "http"]

[http]
url = "https://records.example.com/api/"
token = "file-token"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SINK_HTTP_TOKEN", "env-token")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "staging" || cfg.TaskCount != 3 || cfg.ConcurrencyLimit != 4 || cfg.TaskDelay != time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.HTTP.URL != "https://records.example.com/api" {
		t.Fatalf("unexpected url %q", cfg.HTTP.URL)
	}
	if cfg.HTTP.Token != "env-token" {
		t.Fatalf("expected env token, got %q", cfg.HTTP.Token)
	}
	if cfg.HTTP.AuthHeader != "Authorization" || !cfg.HTTP.VerifyTLS {
		t.Fatalf("expected http defaults kept, got %+v", cfg.HTTP)
	}
}

func TestLoadInvalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "zero limit", env: map[string]string{"CONCURRENCY_LIMIT": "0"}, want: "CONCURRENCY_LIMIT must be > 0"},
		{name: "negative count", env: map[string]string{"TASK_COUNT": "-1"}, want: "TASK_COUNT must be >= 0"},
		{name: "bad int", env: map[string]string{"TASK_COUNT": "five"}, want: "is not an integer"},
		{name: "bad delay", env: map[string]string{"TASK_DELAY": "soon"}, want: "is not a duration"},
		{name: "unknown sink", env: map[string]string{"SINKS": "ftp"}, want: `unknown sink "ftp"`},
		{name: "postgres without url", env: map[string]string{"SINKS": "postgres"}, want: "DATABASE_URL is required"},
		{name: "s3 without creds", env: map[string]string{"SINKS": "s3", "S3_ENDPOINT": "localhost:9000", "S3_BUCKET": "b"}, want: "S3_ACCESS_KEY"},
		{name: "bad fail ids", env: map[string]string{"TASK_FAIL_IDS": "1,x"}, want: "TASK_FAIL_IDS"},
		{name: "bad log format", env: map[string]string{"LOG_FORMAT": "xml"}, want: "LOG_FORMAT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadFrom("")
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, faults.ErrInvalidConfiguration) {
				t.Fatalf("expected invalid configuration, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

func TestLoadBadTOML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "taskpipe.toml")
	if err := os.WriteFile(path, []byte("task_count = ["), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); !errors.Is(err, faults.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	if got := expandPath("~/out.json", "/home/u"); got != "/home/u/out.json" {
		t.Fatalf("unexpected %s", got)
	}
	if got := expandPath("rel/out.json", "/home/u"); got != "rel/out.json" {
		t.Fatalf("unexpected %s", got)
	}
}
