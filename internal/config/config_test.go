package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Import.SyncThreshold != 1<<20 {
		t.Errorf("Import.SyncThreshold = %d, want %d", cfg.Import.SyncThreshold, 1<<20)
	}
	if cfg.Import.MaxConcurrent != 4 {
		t.Errorf("Import.MaxConcurrent = %d, want %d", cfg.Import.MaxConcurrent, 4)
	}
	if cfg.Import.MaxQueued != 32 {
		t.Errorf("Import.MaxQueued = %d, want %d", cfg.Import.MaxQueued, 32)
	}
	if cfg.Import.Retention != time.Hour {
		t.Errorf("Import.Retention = %v, want %v", cfg.Import.Retention, time.Hour)
	}
	if cfg.Upload.BatchSize != 500 {
		t.Errorf("Upload.BatchSize = %d, want %d", cfg.Upload.BatchSize, 500)
	}
	if cfg.Upload.MaxFileSize != 100<<20 {
		t.Errorf("Upload.MaxFileSize = %d, want %d", cfg.Upload.MaxFileSize, 100<<20)
	}
	if cfg.Storage.Enabled() {
		t.Errorf("Storage.Enabled() = true, want false without MINIO_ENDPOINT")
	}
}

func TestLoad_OverrideDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("IMPORT_SYNC_THRESHOLD", "512KiB")
	t.Setenv("IMPORT_MAX_CONCURRENT", "8")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9090)
	}
	if cfg.Import.SyncThreshold != 512*1024 {
		t.Errorf("Import.SyncThreshold = %d, want %d", cfg.Import.SyncThreshold, 512*1024)
	}
	if cfg.Import.MaxConcurrent != 8 {
		t.Errorf("Import.MaxConcurrent = %d, want %d", cfg.Import.MaxConcurrent, 8)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_TrustedProxies(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.1,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := []string{"10.0.0.0/8", "192.168.1.1"}
	if len(cfg.Server.TrustedProxies) != len(expected) {
		t.Fatalf("TrustedProxies length = %d, want %d", len(cfg.Server.TrustedProxies), len(expected))
	}
	for i, v := range expected {
		if cfg.Server.TrustedProxies[i] != v {
			t.Errorf("TrustedProxies[%d] = %q, want %q", i, cfg.Server.TrustedProxies[i], v)
		}
	}
}

func TestLoad_AltEnvVar(t *testing.T) {
	t.Setenv("DB_URL", "postgres://alt/test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.URL != "postgres://alt/test" {
		t.Errorf("Database.URL = %q, want %q", cfg.Database.URL, "postgres://alt/test")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error for missing DATABASE_URL")
	}
}

func TestLoad_ReportsEveryBadValue(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("SERVER_PORT", "eighty")
	t.Setenv("IMPORT_RETENTION", "forever")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error")
	}
	for _, name := range []string{"SERVER_PORT", "IMPORT_RETENTION"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1048576", 1048576, false},
		{"1MiB", 1 << 20, false},
		{"1mib", 1 << 20, false},
		{"2 KiB", 2048, false},
		{"5MB", 5_000_000, false},
		{"10b", 10, false},
		{"", 0, true},
		{"-1", 0, true},
		{"lots", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseByteSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseByteSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080, ShutdownTimeout: time.Second, KeepAlive: 15 * time.Second},
		Database: DatabaseConfig{URL: "postgres://x", MaxConns: 4, MinConns: 1},
		Upload:   UploadConfig{MaxFileSize: 100 << 20, BatchSize: 500, Timeout: time.Minute, SyncTimeout: time.Minute},
		Import: ImportConfig{
			SyncThreshold:     1 << 20,
			MaxConcurrent:     4,
			MaxQueued:         32,
			Retention:         time.Hour,
			GCInterval:        5 * time.Minute,
			MaxReportedErrors: 1000,
		},
		Notify:  NotifyConfig{Timeout: 5 * time.Second},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "SERVER_PORT"},
		{"max below min conns", func(c *Config) { c.Database.MaxConns = 1; c.Database.MinConns = 2 }, "DB_MAX_CONNS"},
		{"threshold above max size", func(c *Config) { c.Import.SyncThreshold = 200 << 20 }, "IMPORT_SYNC_THRESHOLD"},
		{"no workers", func(c *Config) { c.Import.MaxConcurrent = 0 }, "IMPORT_MAX_CONCURRENT"},
		{"minio without credentials", func(c *Config) { c.Storage.Endpoint = "localhost:9000" }, "MINIO_ACCESS_KEY"},
		{"webhook not http", func(c *Config) { c.Notify.WebhookURL = "ftp://hooks" }, "NOTIFY_WEBHOOK_URL"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "LOG_LEVEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestServerAddr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"0.0.0.0", 8080, "0.0.0.0:8080"},
		{"", 9000, ":9000"},
		{"localhost", 443, "localhost:443"},
	}
	for _, tt := range tests {
		cfg := ServerConfig{Host: tt.host, Port: tt.port}
		if got := cfg.Addr(); got != tt.want {
			t.Errorf("Addr() = %q, want %q", got, tt.want)
		}
	}
}

func TestConfigString_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = "postgres://user:hunter2@db/stock"
	cfg.Storage.SecretKey = "minio-secret"

	s := cfg.String()
	for _, secret := range []string{"hunter2", "minio-secret"} {
		if strings.Contains(s, secret) {
			t.Errorf("String() leaks %q: %s", secret, s)
		}
	}
}
