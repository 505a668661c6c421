package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

// DefaultModel is the embedding model used when EMBEDDING_MODEL is unset.
const DefaultModel = "facenet-128"

type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Embedding EmbeddingConfig
	Camera    CameraConfig
	Policy    PolicyConfig
	Web       WebConfig
	Log       LogConfig
	Models    ModelsConfig
}

type DatabaseConfig struct {
	Driver       string // postgres, mariadb or memory (default memory when URL is empty)
	URL          string // PostgreSQL URL or MariaDB DSN
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type RedisConfig struct {
	URL        string // redis://host:6379/0, caching disabled when empty
	TTLSeconds int    // defaults to 300
}

type EmbeddingConfig struct {
	URL   string // defaults to http://localhost:8000
	Model string // defaults to DefaultModel
}

type CameraConfig struct {
	URL       string // HTTP snapshot endpoint of a network camera
	Dir       string // directory of frames, used when URL is empty
	MaxSize   int    // longest edge of normalized frames (default 1024)
	MaxPixels int    // width*height a frame header may declare (default 40M)
}

type PolicyConfig struct {
	MultiFace            string // fail-closed (default) or pick-best
	MaxBiometricAttempts int    // defaults to 3
	BcryptCost           int    // defaults to bcrypt.DefaultCost (10)
}

type WebConfig struct {
	Port           int
	Host           string
	SessionSecret  string
	AllowedOrigins []string
}

type LogConfig struct {
	Level string
	Dev   bool
}

type ModelsConfig struct {
	Models map[string]ModelSource `yaml:"models"`
}

// ModelSource describes one embedding model the server can load.
type ModelSource struct {
	Name     string `yaml:"-"`
	Detector string `yaml:"detector"`
	Dim      int    `yaml:"dim"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Load() *Config {
	var models ModelsConfig
	if err := yaml.Unmarshal(modelsYAML, &models); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded models.yaml: " + err.Error())
	}
	for name, m := range models.Models {
		m.Name = name
		models.Models[name] = m
	}

	dbURL := os.Getenv("DATABASE_URL")
	driver := strings.ToLower(os.Getenv("DATABASE_DRIVER"))
	if driver == "" {
		driver = "memory"
		if dbURL != "" {
			driver = "postgres"
		}
	}

	logDev := os.Getenv("LOG_DEV")

	return &Config{
		Database: DatabaseConfig{
			Driver:       driver,
			URL:          dbURL,
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL:        os.Getenv("REDIS_URL"),
			TTLSeconds: envInt("REDIS_TTL_SECONDS", 300),
		},
		Embedding: EmbeddingConfig{
			URL:   envString("EMBEDDING_URL", "http://localhost:8000"),
			Model: envString("EMBEDDING_MODEL", DefaultModel),
		},
		Camera: CameraConfig{
			URL:       os.Getenv("CAMERA_URL"),
			Dir:       os.Getenv("CAMERA_DIR"),
			MaxSize:   envInt("CAMERA_MAX_SIZE", 1024),
			MaxPixels: envInt("CAMERA_MAX_PIXELS", 40_000_000),
		},
		Policy: PolicyConfig{
			MultiFace:            strings.ToLower(envString("MULTI_FACE_POLICY", "fail-closed")),
			MaxBiometricAttempts: envInt("MAX_BIOMETRIC_ATTEMPTS", 3),
			BcryptCost:           envInt("BCRYPT_COST", 10),
		},
		Web: WebConfig{
			Port:           envInt("WEB_PORT", 8085),
			Host:           envString("WEB_HOST", "0.0.0.0"),
			SessionSecret:  os.Getenv("WEB_SESSION_SECRET"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level: envString("LOG_LEVEL", "info"),
			Dev:   logDev == "1" || strings.EqualFold(logDev, "true"),
		},
		Models: models,
	}
}

// ModelSource resolves the configured embedding model against the embedded catalog.
func (c *Config) ModelSource() (ModelSource, error) {
	m, ok := c.Models.Models[c.Embedding.Model]
	if !ok {
		return ModelSource{}, fmt.Errorf("unknown embedding model %q", c.Embedding.Model)
	}
	return m, nil
}
