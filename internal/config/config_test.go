package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestYAML(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test yaml: %v", err)
	}
	return path
}

const minimalYAML = `
providers:
  - name: lime
    trips: https://api.lime.test/trips
`

// --- Load tests ---

func TestLoad_FullConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_LIME_TOKEN", "Bearer lime-secret")

	writeTestYAML(t, dir, DefaultConfigFile, `
providers:
  - name: lime
    trips: https://api.lime.test/trips
    status_changes: https://api.lime.test/status_changes
    token_env: TEST_LIME_TOKEN
    version: "0.3.0"
  - name: bird
    status_changes: https://api.bird.test/status_changes
    token: "Bearer bird-inline"
output:
  dir: out
audit:
  dir: audit
  signing_version: "0.2.1"
storage:
  path: custom.db
  retain_days: 60
http:
  timeout: 15s
matcher:
  max_trip_duration: 6h
  max_trip_distance: 50000
  allowed_event_types: [available, reserved]
logging:
  level: debug
  format: json
metrics:
  textfile: metrics.prom
privacy:
  redact:
    - "(?i)secret"
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Providers
	if len(cfg.Providers) != 2 {
		t.Fatalf("providers = %d, want 2", len(cfg.Providers))
	}
	lime := cfg.Providers[0]
	if lime.Token != "Bearer lime-secret" {
		t.Errorf("lime token = %q", lime.Token)
	}
	if lime.Version != "0.3.0" {
		t.Errorf("lime version = %q", lime.Version)
	}
	if cfg.Providers[1].Token != "Bearer bird-inline" {
		t.Errorf("bird token = %q", cfg.Providers[1].Token)
	}

	// Paths
	if cfg.Output.Dir != "out" || cfg.Audit.Dir != "audit" {
		t.Errorf("output/audit dirs = %q/%q", cfg.Output.Dir, cfg.Audit.Dir)
	}
	if cfg.Audit.SigningVersion != "0.2.1" {
		t.Errorf("signing_version = %q", cfg.Audit.SigningVersion)
	}
	if cfg.Storage.Path != "custom.db" || cfg.Storage.RetainDays != 60 {
		t.Errorf("storage = %+v", cfg.Storage)
	}

	// HTTP and matcher
	if cfg.HTTP.Timeout.Duration != 15*time.Second {
		t.Errorf("http timeout = %v", cfg.HTTP.Timeout.Duration)
	}
	if cfg.Matcher.MaxTripDuration.Duration != 6*time.Hour {
		t.Errorf("max_trip_duration = %v", cfg.Matcher.MaxTripDuration.Duration)
	}
	if cfg.Matcher.MaxTripDistance != 50000 {
		t.Errorf("max_trip_distance = %v", cfg.Matcher.MaxTripDistance)
	}
	if len(cfg.Matcher.AllowedEventTypes) != 2 {
		t.Errorf("allowed_event_types = %v", cfg.Matcher.AllowedEventTypes)
	}

	// Logging, metrics, privacy
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Metrics.Textfile != "metrics.prom" {
		t.Errorf("metrics textfile = %q", cfg.Metrics.Textfile)
	}
	if len(cfg.Privacy.Redact) != 1 {
		t.Errorf("redact = %v", cfg.Privacy.Redact)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	dir := t.TempDir()
	writeTestYAML(t, dir, DefaultConfigFile, minimalYAML)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Storage.Path != DefaultStoragePath {
		t.Errorf("storage path = %q, want %q", cfg.Storage.Path, DefaultStoragePath)
	}
	if cfg.Storage.RetainDays != DefaultRetainDays {
		t.Errorf("retain_days = %d, want %d", cfg.Storage.RetainDays, DefaultRetainDays)
	}
	if cfg.Output.Dir != DefaultOutputDir {
		t.Errorf("output dir = %q", cfg.Output.Dir)
	}
	if cfg.Audit.Dir != DefaultAuditDir {
		t.Errorf("audit dir = %q", cfg.Audit.Dir)
	}
	if cfg.HTTP.Timeout.Duration != DefaultHTTPTimeout {
		t.Errorf("http timeout = %v", cfg.HTTP.Timeout.Duration)
	}
	if cfg.Matcher.MaxTripDuration.Duration != DefaultMaxTripDuration {
		t.Errorf("max_trip_duration = %v", cfg.Matcher.MaxTripDuration.Duration)
	}
	if cfg.Logging.Level != DefaultLogLevel || cfg.Logging.Format != DefaultLogFormat {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no providers",
			yaml:    "storage:\n  path: x.db\n",
			wantErr: "at least one provider",
		},
		{
			name: "missing name",
			yaml: `
providers:
  - trips: https://a.test/trips
`,
			wantErr: "name is required",
		},
		{
			name: "duplicate name",
			yaml: `
providers:
  - name: lime
    trips: https://a.test/trips
  - name: lime
    status_changes: https://b.test/sc
`,
			wantErr: "duplicate name",
		},
		{
			name: "name with slash",
			yaml: `
providers:
  - name: ../lime
    trips: https://a.test/trips
`,
			wantErr: "path separators",
		},
		{
			name: "name with backslash",
			yaml: `
providers:
  - name: 'lime\trips'
    trips: https://a.test/trips
`,
			wantErr: "path separators",
		},
		{
			name: "name with dot dot",
			yaml: `
providers:
  - name: lime..
    trips: https://a.test/trips
`,
			wantErr: "path separators",
		},
		{
			name: "duplicate after trimming",
			yaml: `
providers:
  - name: lime
    trips: https://a.test/trips
  - name: " lime "
    status_changes: https://b.test/sc
`,
			wantErr: "duplicate name",
		},
		{
			name: "no endpoints",
			yaml: `
providers:
  - name: lime
    version: "0.3.0"
`,
			wantErr: "trips or status_changes",
		},
		{
			name:    "bad log level",
			yaml:    minimalYAML + "logging:\n  level: verbose\n",
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			yaml:    minimalYAML + "logging:\n  format: xml\n",
			wantErr: "logging.format",
		},
		{
			name:    "negative retain days",
			yaml:    minimalYAML + "storage:\n  retain_days: -1\n",
			wantErr: "retain_days",
		},
		{
			name:    "bad redact pattern",
			yaml:    minimalYAML + "privacy:\n  redact:\n    - \"[invalid\"\n",
			wantErr: "privacy.redact",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeTestYAML(t, dir, DefaultConfigFile, tt.yaml)

			_, err := Load(dir)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_TrimsProviderName(t *testing.T) {
	dir := t.TempDir()
	writeTestYAML(t, dir, DefaultConfigFile, "providers:\n  - name: \"  lime \"\n    trips: https://a.test/trips\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Providers[0].Name; got != "lime" {
		t.Errorf("name = %q, want %q", got, "lime")
	}
	if _, ok := cfg.Provider("lime"); !ok {
		t.Error("trimmed provider not found by name")
	}
}

func TestLoad_DurationParsing(t *testing.T) {
	dir := t.TempDir()
	writeTestYAML(t, dir, DefaultConfigFile, minimalYAML+"http:\n  timeout: 2m30s\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Timeout.Duration != 150*time.Second {
		t.Errorf("timeout = %v, want 2m30s", cfg.HTTP.Timeout.Duration)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	dir := t.TempDir()
	writeTestYAML(t, dir, DefaultConfigFile, minimalYAML+"http:\n  timeout: soon\n")

	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "parse duration") {
		t.Errorf("error = %q", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "read config") {
		t.Errorf("error = %q", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeTestYAML(t, dir, DefaultConfigFile, "providers: [\n")

	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error for invalid yaml")
	}
	if !strings.Contains(err.Error(), "parse config") {
		t.Errorf("error = %q", err)
	}
}

func TestLoad_EmptyDir(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty dir")
	}
}

func TestLoad_TokenEnvMissing(t *testing.T) {
	dir := t.TempDir()
	writeTestYAML(t, dir, DefaultConfigFile, `
providers:
  - name: lime
    trips: https://api.lime.test/trips
    token_env: NONEXISTENT_TOKEN_VAR_12345
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Providers[0].Token != "" {
		t.Errorf("token = %q, want empty", cfg.Providers[0].Token)
	}
}

func TestLoad_InlineTokenWinsOverEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_LIME_TOKEN", "from-env")
	writeTestYAML(t, dir, DefaultConfigFile, `
providers:
  - name: lime
    trips: https://api.lime.test/trips
    token: inline
    token_env: TEST_LIME_TOKEN
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Providers[0].Token != "inline" {
		t.Errorf("token = %q, want inline", cfg.Providers[0].Token)
	}
}

func TestSigningVersion(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		version    string
		want       string
	}{
		{"configured wins", "0.2.1", "0.3.0", "0.2.1"},
		{"provider version", "", "0.3.0", "0.3.0"},
		{"fallback", "", "", DefaultSigningVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Audit: AuditConfig{SigningVersion: tt.configured}}
			got := cfg.SigningVersion(ProviderConfig{Version: tt.version})
			if got != tt.want {
				t.Errorf("SigningVersion = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProviderLookup(t *testing.T) {
	cfg := &Config{Providers: []ProviderConfig{
		{Name: "lime", Trips: "https://a.test/trips", Version: "0.3.0", Token: "t"},
	}}

	p, ok := cfg.Provider("lime")
	if !ok {
		t.Fatal("expected lime")
	}
	d := p.Descriptor()
	if d.Name != "lime" || d.Trips != "https://a.test/trips" || d.Version != "0.3.0" || d.Token != "t" {
		t.Errorf("descriptor = %+v", d)
	}

	if _, ok := cfg.Provider("bird"); ok {
		t.Error("unexpected bird")
	}
}

func TestMatcherConfigFor(t *testing.T) {
	m := MatcherConfig{
		MaxTripDuration:   Duration{time.Hour},
		MaxTripDistance:   1000,
		AllowedEventTypes: []string{"available"},
	}
	got := m.For("lime")
	if got.Provider != "lime" || got.MaxTripDuration != time.Hour || got.MaxTripDistance != 1000 || len(got.AllowedEventTypes) != 1 {
		t.Errorf("match config = %+v", got)
	}
}
