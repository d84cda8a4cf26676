package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"taskpipe/internal/faults"
)

const (
	SinkJSON     = "json"
	SinkYAML     = "yaml"
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
	SinkHTTP     = "http"
	SinkS3       = "s3"
)

var knownSinks = map[string]struct{}{
	SinkJSON: {}, SinkYAML: {}, SinkSQLite: {}, SinkPostgres: {}, SinkHTTP: {}, SinkS3: {},
}

type HTTPConfig struct {
	URL        string `toml:"url"`
	Token      string `toml:"token"`
	AuthHeader string `toml:"auth_header"`
	VerifyTLS  bool   `toml:"verify_tls"`
}

type S3Config struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Prefix    string `toml:"prefix"`
	UseSSL    bool   `toml:"use_ssl"`
}

type Config struct {
	Env              string     `toml:"env"`
	TaskCount        int        `toml:"task_count"`
	ConcurrencyLimit int        `toml:"concurrency_limit"`
	TaskDelayRaw     string     `toml:"task_delay"`
	FailTaskIDs      []int      `toml:"fail_task_ids"`
	Sinks            []string   `toml:"sinks"`
	OutputPath       string     `toml:"output_path"`
	YAMLOutputPath   string     `toml:"yaml_output_path"`
	StateDBPath      string     `toml:"state_db_path"`
	DatabaseURL      string     `toml:"database_url"`
	HTTP             HTTPConfig `toml:"http"`
	S3               S3Config   `toml:"s3"`
	LogLevel         string     `toml:"log_level"`
	LogFormat        string     `toml:"log_format"`

	TaskDelay time.Duration `toml:"-"`
}

func Defaults() Config {
	return Config{
		Env:              "dev",
		TaskCount:        5,
		ConcurrencyLimit: 2,
		TaskDelayRaw:     "500ms",
		Sinks:            []string{SinkJSON},
		OutputPath:       "sink_output.json",
		YAMLOutputPath:   "sink_output.yaml",
		StateDBPath:      "taskpipe.db",
		HTTP:             HTTPConfig{AuthHeader: "Authorization", VerifyTLS: true},
		S3:               S3Config{Prefix: "taskpipe"},
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// DefaultConfigPath is used when TASKPIPE_CONFIG is unset.
func DefaultConfigPath() string {
	return "taskpipe.toml"
}

// Load reads .env, then the TOML file named by TASKPIPE_CONFIG, then the
// environment. Environment values win over file values.
func Load() (Config, error) {
	_ = loadDotEnv(".env")
	return LoadFrom(getEnvDefault("TASKPIPE_CONFIG", DefaultConfigPath()))
}

// LoadFrom is Load without the .env step. A missing file is not an error.
func LoadFrom(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, faults.New(faults.ErrInvalidConfiguration, "config file "+path, err)
			}
		}
	}

	var problems []string
	applyEnvOverrides(&cfg, &problems)

	d, err := time.ParseDuration(cfg.TaskDelayRaw)
	if err != nil {
		problems = append(problems, fmt.Sprintf("TASK_DELAY %q is not a duration", cfg.TaskDelayRaw))
	}
	cfg.TaskDelay = d
	cfg.Sinks = normalizeSinks(cfg.Sinks)
	if home, err := os.UserHomeDir(); err == nil {
		cfg.OutputPath = expandPath(cfg.OutputPath, home)
		cfg.YAMLOutputPath = expandPath(cfg.YAMLOutputPath, home)
		cfg.StateDBPath = expandPath(cfg.StateDBPath, home)
	}

	problems = append(problems, validate(cfg)...)
	if len(problems) > 0 {
		return Config{}, faults.New(faults.ErrInvalidConfiguration, "config", errors.New(strings.Join(problems, "; ")))
	}
	return cfg, nil
}

// Metadata is the mapping copied into every record.
func (c Config) Metadata() map[string]string {
	return map[string]string{"env": c.Env}
}

func (c Config) HasSink(name string) bool {
	for _, s := range c.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

func applyEnvOverrides(cfg *Config, problems *[]string) {
	cfg.Env = getEnvDefault("APP_ENV", cfg.Env)
	cfg.TaskCount = getEnvInt("TASK_COUNT", cfg.TaskCount, problems)
	cfg.ConcurrencyLimit = getEnvInt("CONCURRENCY_LIMIT", cfg.ConcurrencyLimit, problems)
	cfg.TaskDelayRaw = getEnvDefault("TASK_DELAY", cfg.TaskDelayRaw)
	if raw, ok := lookupEnv("TASK_FAIL_IDS"); ok {
		ids, err := parseIDs(raw)
		if err != nil {
			*problems = append(*problems, fmt.Sprintf("TASK_FAIL_IDS: %v", err))
		}
		cfg.FailTaskIDs = ids
	}
	if raw, ok := lookupEnv("SINKS"); ok {
		_, cfg.Sinks = parseCSVSet(raw)
	}
	cfg.OutputPath = getEnvDefault("OUTPUT_PATH", cfg.OutputPath)
	cfg.YAMLOutputPath = getEnvDefault("YAML_OUTPUT_PATH", cfg.YAMLOutputPath)
	cfg.StateDBPath = getEnvDefault("STATE_DB_PATH", cfg.StateDBPath)
	cfg.DatabaseURL = getEnvDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.HTTP.URL = strings.TrimRight(getEnvDefault("SINK_HTTP_URL", cfg.HTTP.URL), "/")
	cfg.HTTP.Token = getEnvDefault("SINK_HTTP_TOKEN", cfg.HTTP.Token)
	cfg.HTTP.AuthHeader = getEnvDefault("SINK_HTTP_AUTH_HEADER", cfg.HTTP.AuthHeader)
	cfg.HTTP.VerifyTLS = getEnvBool("SINK_HTTP_VERIFY_TLS", cfg.HTTP.VerifyTLS, problems)
	cfg.S3.Endpoint = getEnvDefault("S3_ENDPOINT", cfg.S3.Endpoint)
	cfg.S3.AccessKey = getEnvDefault("S3_ACCESS_KEY", cfg.S3.AccessKey)
	cfg.S3.SecretKey = getEnvDefault("S3_SECRET_KEY", cfg.S3.SecretKey)
	cfg.S3.Bucket = getEnvDefault("S3_BUCKET", cfg.S3.Bucket)
	cfg.S3.Region = getEnvDefault("S3_REGION", cfg.S3.Region)
	cfg.S3.Prefix = getEnvDefault("S3_PREFIX", cfg.S3.Prefix)
	cfg.S3.UseSSL = getEnvBool("S3_USE_SSL", cfg.S3.UseSSL, problems)
	cfg.LogLevel = getEnvDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvDefault("LOG_FORMAT", cfg.LogFormat)
}

func validate(cfg Config) []string {
	var problems []string

	if cfg.Env == "" {
		problems = append(problems, "APP_ENV must not be empty")
	}
	if cfg.TaskCount < 0 {
		problems = append(problems, "TASK_COUNT must be >= 0")
	}
	if cfg.ConcurrencyLimit <= 0 {
		problems = append(problems, "CONCURRENCY_LIMIT must be > 0")
	}
	if cfg.TaskDelay < 0 {
		problems = append(problems, "TASK_DELAY must be >= 0")
	}
	for _, id := range cfg.FailTaskIDs {
		if id < 0 {
			problems = append(problems, "TASK_FAIL_IDS must be non-negative")
			break
		}
	}
	if len(cfg.Sinks) == 0 {
		problems = append(problems, "SINKS must name at least one sink")
	}
	for _, s := range cfg.Sinks {
		if _, ok := knownSinks[s]; !ok {
			problems = append(problems, fmt.Sprintf("unknown sink %q", s))
		}
	}
	if cfg.HasSink(SinkJSON) && cfg.OutputPath == "" {
		problems = append(problems, "OUTPUT_PATH must not be empty")
	}
	if cfg.HasSink(SinkYAML) && cfg.YAMLOutputPath == "" {
		problems = append(problems, "YAML_OUTPUT_PATH must not be empty")
	}
	if cfg.HasSink(SinkSQLite) && cfg.StateDBPath == "" {
		problems = append(problems, "STATE_DB_PATH must not be empty")
	}
	if cfg.HasSink(SinkPostgres) && cfg.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required for the postgres sink")
	}
	if cfg.HasSink(SinkHTTP) && cfg.HTTP.URL == "" {
		problems = append(problems, "SINK_HTTP_URL is required for the http sink")
	}
	if cfg.HasSink(SinkS3) {
		if cfg.S3.Endpoint == "" || cfg.S3.Bucket == "" {
			problems = append(problems, "S3_ENDPOINT and S3_BUCKET are required for the s3 sink")
		}
		if cfg.S3.AccessKey == "" || cfg.S3.SecretKey == "" {
			problems = append(problems, "S3_ACCESS_KEY and S3_SECRET_KEY are required for the s3 sink")
		}
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "text", "json":
	default:
		problems = append(problems, "LOG_FORMAT must be text or json")
	}
	return problems
}

func normalizeSinks(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func lookupEnv(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func getEnvDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(key string, def int, problems *[]string) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s %q is not an integer", key, raw))
		return def
	}
	return v
}

func getEnvBool(key string, def bool, problems *[]string) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s %q is not a boolean", key, raw))
		return def
	}
	return v
}

func parseCSVSet(raw string) (map[string]struct{}, []string) {
	set := make(map[string]struct{})
	list := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if _, exists := set[id]; exists {
			continue
		}
		set[id] = struct{}{}
		list = append(list, id)
	}
	return set, list
}

func parseIDs(raw string) ([]int, error) {
	_, list := parseCSVSet(raw)
	ids := make([]int, 0, len(list))
	for _, s := range list {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", s)
		}
		ids = append(ids, n)
	}
	sort.Ints(ids)
	return ids, nil
}

func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, "\"")
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
	return scanner.Err()
}

func expandPath(p, home string) string {
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, strings.TrimPrefix(p, "~/"))
	}
	return p
}
