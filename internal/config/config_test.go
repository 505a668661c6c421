package config

import (
	"os"
	"testing"
)

func TestLoad_ModelsLoaded(t *testing.T) {
	cfg := Load()

	if len(cfg.Models.Models) == 0 {
		t.Fatal("expected models to be loaded from embedded YAML")
	}

	expectedModels := []string{"facenet-128", "dlib-resnet-128", "arcface-512"}
	for _, model := range expectedModels {
		m, ok := cfg.Models.Models[model]
		if !ok {
			t.Errorf("expected model '%s' to be in catalog", model)
			continue
		}
		if m.Name != model {
			t.Errorf("expected name '%s', got '%s'", model, m.Name)
		}
	}
}

func TestModelSource_Default(t *testing.T) {
	os.Unsetenv("EMBEDDING_MODEL")

	cfg := Load()

	src, err := cfg.ModelSource()
	if err != nil {
		t.Fatalf("ModelSource() error: %v", err)
	}
	if src.Name != DefaultModel {
		t.Errorf("expected model %s, got %s", DefaultModel, src.Name)
	}
	if src.Dim != 128 {
		t.Errorf("expected dim 128, got %d", src.Dim)
	}
}

func TestModelSource_Unknown(t *testing.T) {
	t.Setenv("EMBEDDING_MODEL", "unknown-model-xyz")

	cfg := Load()

	if _, err := cfg.ModelSource(); err == nil {
		t.Error("expected error for unknown model")
	}
}

func TestLoad_DatabaseDriver(t *testing.T) {
	tests := []struct {
		name     string
		driver   string
		url      string
		expected string
	}{
		{"no url defaults to memory", "", "", "memory"},
		{"url defaults to postgres", "", "postgres://localhost/facegate", "postgres"},
		{"explicit mariadb", "MariaDB", "user:pw@tcp(localhost:3306)/facegate", "mariadb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_DRIVER", tt.driver)
			t.Setenv("DATABASE_URL", tt.url)

			cfg := Load()

			if cfg.Database.Driver != tt.expected {
				t.Errorf("expected driver '%s', got '%s'", tt.expected, cfg.Database.Driver)
			}
		})
	}
}

func TestLoad_DefaultPolicy(t *testing.T) {
	os.Unsetenv("MAX_BIOMETRIC_ATTEMPTS")
	os.Unsetenv("MULTI_FACE_POLICY")

	cfg := Load()

	if cfg.Policy.MaxBiometricAttempts != 3 {
		t.Errorf("expected default attempts 3, got %d", cfg.Policy.MaxBiometricAttempts)
	}
	if cfg.Policy.MultiFace != "fail-closed" {
		t.Errorf("expected fail-closed, got '%s'", cfg.Policy.MultiFace)
	}
}

func TestLoad_InvalidIntegers(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"non-numeric", "invalid"},
		{"negative", "-100"},
		{"zero", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MAX_BIOMETRIC_ATTEMPTS", tt.value)
			t.Setenv("CAMERA_MAX_SIZE", tt.value)
			t.Setenv("CAMERA_MAX_PIXELS", tt.value)

			cfg := Load()

			if cfg.Policy.MaxBiometricAttempts != 3 {
				t.Errorf("expected fallback attempts 3, got %d", cfg.Policy.MaxBiometricAttempts)
			}
			if cfg.Camera.MaxSize != 1024 {
				t.Errorf("expected fallback max size 1024, got %d", cfg.Camera.MaxSize)
			}
			if cfg.Camera.MaxPixels != 40_000_000 {
				t.Errorf("expected fallback pixel budget 40000000, got %d", cfg.Camera.MaxPixels)
			}
		})
	}
}

func TestLoad_WebConfig(t *testing.T) {
	t.Setenv("WEB_PORT", "9090")
	t.Setenv("WEB_SESSION_SECRET", "s3cret")
	t.Setenv("WEB_ALLOWED_ORIGINS", "http://a.test, ,http://b.test")

	cfg := Load()

	if cfg.Web.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Web.SessionSecret != "s3cret" {
		t.Errorf("expected session secret, got '%s'", cfg.Web.SessionSecret)
	}
	if len(cfg.Web.AllowedOrigins) != 2 || cfg.Web.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("unexpected origins: %v", cfg.Web.AllowedOrigins)
	}
}

func TestLoad_LogConfig(t *testing.T) {
	t.Setenv("LOG_DEV", "1")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	if !cfg.Log.Dev || cfg.Log.Level != "debug" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
}

func TestLoad_EmbeddingConfig(t *testing.T) {
	t.Setenv("EMBEDDING_URL", "http://embed:8000")

	cfg := Load()

	if cfg.Embedding.URL != "http://embed:8000" {
		t.Errorf("expected Embedding URL 'http://embed:8000', got '%s'", cfg.Embedding.URL)
	}
}
