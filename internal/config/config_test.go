package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WARDROBE_MAX_IMAGES", "")
	t.Setenv("POSTGRES_DSN", "")

	cfg := Load()
	if cfg.Pipeline.MaxImages != 5 {
		t.Fatalf("expected max images 5, got %d", cfg.Pipeline.MaxImages)
	}
	if cfg.Pipeline.MaxAvatarBytes != 5<<20 || cfg.Pipeline.MaxWardrobeBytes != 10<<20 {
		t.Fatalf("unexpected size limits %+v", cfg.Pipeline)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.InitialDelay != time.Second {
		t.Fatalf("unexpected retry defaults %+v", cfg.Retry)
	}
	if cfg.Throttle.BytesPerToken != 1<<20 {
		t.Fatalf("expected 1MiB per token, got %d", cfg.Throttle.BytesPerToken)
	}
	if cfg.Database.DSN != "" {
		t.Fatalf("expected memory ledger by default, got %q", cfg.Database.DSN)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WARDROBE_CONCURRENCY", "3")
	t.Setenv("WARDROBE_QUALITY", "0.65")
	t.Setenv("AVATAR_MAX_OUTPUT_SIZE", "512KiB")
	t.Setenv("WARDROBE_MAX_FILE_SIZE", "inf")
	t.Setenv("RETRY_MAX_DELAY", "2s")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	if cfg.Pipeline.Concurrency != 3 {
		t.Fatalf("expected concurrency 3, got %d", cfg.Pipeline.Concurrency)
	}
	if cfg.Pipeline.Quality != 0.65 {
		t.Fatalf("expected quality 0.65, got %v", cfg.Pipeline.Quality)
	}
	if cfg.Pipeline.AvatarMaxBytes != 512<<10 {
		t.Fatalf("expected 512KiB, got %d", cfg.Pipeline.AvatarMaxBytes)
	}
	if cfg.Pipeline.MaxWardrobeBytes != 10<<20 {
		t.Fatalf("unparseable size should fall back, got %d", cfg.Pipeline.MaxWardrobeBytes)
	}
	if cfg.Retry.MaxDelay != 2*time.Second {
		t.Fatalf("expected 2s max delay, got %v", cfg.Retry.MaxDelay)
	}
	if !cfg.Storage.UseSSL {
		t.Fatal("expected ssl enabled")
	}
	if cfg.Throttle.RedisDB != 0 {
		t.Fatalf("invalid int should fall back, got %d", cfg.Throttle.RedisDB)
	}
}

func TestParseBytes(t *testing.T) {
	tests := map[string]int64{
		"1024":    1024,
		"5MiB":    5 << 20,
		"5MB":     5_000_000,
		"5M":      5_000_000,
		"1.5KiB":  1536,
		"2 GB":    2_000_000_000,
		" 10B ":   10,
		"512kib":  512 << 10,
		"1.5 GiB": 3 << 29,
	}
	for in, want := range tests {
		got, ok := ParseBytes(in)
		if !ok || got != want {
			t.Fatalf("ParseBytes(%q) = %d, %v; want %d", in, got, ok, want)
		}
	}
}

func TestParseBytes_RejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "lots", "inf", "NaN", "-5MB", "1e20GB", "20EB", "5 parsecs"} {
		if got, ok := ParseBytes(in); ok {
			t.Fatalf("ParseBytes(%q) = %d, want rejection", in, got)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("WARDROBE_TEST_DOTENV=from-file\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("WARDROBE_TEST_DOTENV", "")
	os.Unsetenv("WARDROBE_TEST_DOTENV")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv("WARDROBE_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}
