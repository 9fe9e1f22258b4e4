package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		config := DefaultConfig()

		durations := map[string]struct{ got, want time.Duration }{
			"session_interval":   {config.Scheduler.SessionInterval.Duration, 30 * time.Minute},
			"retention_interval": {config.Scheduler.RetentionInterval.Duration, time.Minute},
			"session_horizon":    {config.Scheduler.SessionHorizon.Duration, 6 * time.Hour},
			"tick_timeout":       {config.Scheduler.TickTimeout.Duration, 5 * time.Minute},
			"request_timeout":    {config.Spotify.RequestTimeout.Duration, 30 * time.Second},
		}
		for name, d := range durations {
			if d.got != d.want {
				t.Errorf("%s = %s, want %s", name, d.got, d.want)
			}
		}

		if config.Scheduler.MaxConcurrency != 10 {
			t.Errorf("max_concurrency = %d, want 10", config.Scheduler.MaxConcurrency)
		}
		if got := config.Server.Addr(); got != "127.0.0.1:3000" {
			t.Errorf("server addr = %s, want 127.0.0.1:3000", got)
		}
		if config.Credentials.Spotify.RedirectURI != "http://127.0.0.1:3000/auth/callback" {
			t.Errorf("redirect uri should point at the callback server, got %s", config.Credentials.Spotify.RedirectURI)
		}
	})

	t.Run("Partial file keeps defaults", func(t *testing.T) {
		path := writeConfig(t, `[database]
path = "/var/lib/spotprune/state.db"

[server]
host = "0.0.0.0"
port = 8080

[credentials.spotify]
client_id = "id"
client_secret = "secret"

[scheduler]
retention_interval = "10m"
`)

		config, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/var/lib/spotprune/state.db" {
			t.Errorf("database path = %s", config.Database.Path)
		}
		if config.Server.Addr() != "0.0.0.0:8080" {
			t.Errorf("server addr = %s", config.Server.Addr())
		}
		if config.Scheduler.RetentionInterval.Duration != 10*time.Minute {
			t.Errorf("retention interval = %s", config.Scheduler.RetentionInterval)
		}
		if config.Scheduler.SessionInterval.Duration != 30*time.Minute {
			t.Errorf("session interval should keep its default, got %s", config.Scheduler.SessionInterval)
		}
		if config.Credentials.Spotify.RedirectURI == "" {
			t.Error("redirect uri should keep its default")
		}
	})

	t.Run("Invalid duration", func(t *testing.T) {
		path := writeConfig(t, "[scheduler]\ntick_timeout = \"soon\"\n")

		if _, err := LoadConfig(path); err == nil {
			t.Fatal("expected invalid duration to fail")
		}

		var d Duration
		if err := d.UnmarshalText([]byte("soon")); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("Missing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing.toml")

		if _, err := LoadConfig(path); err == nil {
			t.Error("LoadConfig should fail for a missing file")
		}

		config, err := LoadConfigOrDefault(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.Database.Path != DefaultConfig().Database.Path {
			t.Errorf("expected defaults, got %s", config.Database.Path)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")

		if err := CreateConfigFile(path); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}
		if _, err := LoadConfig(path); err != nil {
			t.Fatalf("created config does not load: %v", err)
		}
		if err := CreateConfigFile(path); err == nil {
			t.Error("an existing config must not be overwritten")
		}
	})

	t.Run("Spotify credentials", func(t *testing.T) {
		tc := []struct {
			name string
			cfg  SpotifyConfig
			want bool
		}{
			{name: "complete", cfg: SpotifyConfig{ClientID: "id", ClientSecret: "secret"}, want: true},
			{name: "no secret", cfg: SpotifyConfig{ClientID: "id"}},
			{name: "empty", cfg: SpotifyConfig{}},
		}
		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				if got := tt.cfg.Configured(); got != tt.want {
					t.Errorf("Configured() = %v, want %v", got, tt.want)
				}
			})
		}
	})

	t.Run("Duration round trip", func(t *testing.T) {
		d := Duration{90 * time.Second}
		text, err := d.MarshalText()
		if err != nil {
			t.Fatal(err)
		}

		var parsed Duration
		if err := parsed.UnmarshalText(text); err != nil {
			t.Fatal(err)
		}
		if parsed != d {
			t.Errorf("got %s, want %s", parsed, d)
		}
	})
}
