package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Server holds everything cmd/server needs.
type Server struct {
	AppEnv    string
	Addr      string
	DSN       string
	JWTSecret string
	RedisAddr string
	LogLevel  string

	// StorageDir is where blobs are written; PublicURL is the externally
	// reachable base used to build download URLs.
	StorageDir     string
	PublicURL      string
	MaxUploadBytes int64

	NodeID     int64
	WriteRPS   int
	WriteBurst int
}

// Client holds everything cmd/chat needs.
type Client struct {
	AppEnv        string
	ServerURL     string
	DataDir       string
	DefaultAvatar string
	LogLevel      string
}

func (s Server) IsProduction() bool { return s.AppEnv == EnvProduction }

// loadDotEnv loads .env outside production. A missing file is fine.
func loadDotEnv(appEnv string) error {
	if appEnv == EnvProduction {
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func appEnv() (string, error) {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if env == "" {
		env = EnvDevelopment
	}
	if !slices.Contains([]string{EnvDevelopment, EnvStaging, EnvProduction}, env) {
		return "", fmt.Errorf("APP_ENV must be one of development, staging, production (got %q)", env)
	}
	return env, nil
}

// LoadServer reads server configuration from the environment.
func LoadServer() (Server, error) {
	env, err := appEnv()
	if err != nil {
		return Server{}, err
	}
	if err := loadDotEnv(env); err != nil {
		return Server{}, err
	}
	// .env may have set APP_ENV itself
	if env, err = appEnv(); err != nil {
		return Server{}, err
	}

	cfg := Server{
		AppEnv:         env,
		Addr:           stringOr(os.Getenv("ADDR"), ":8080"),
		DSN:            os.Getenv("DB_DSN"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		RedisAddr:      stringOr(os.Getenv("REDIS_ADDR"), "localhost:6379"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		StorageDir:     stringOr(os.Getenv("STORAGE_DIR"), "./data/blobs"),
		PublicURL:      strings.TrimRight(stringOr(os.Getenv("PUBLIC_URL"), "http://localhost:8080"), "/"),
		MaxUploadBytes: bytesOr(os.Getenv("MAX_UPLOAD_BYTES"), 5*1024*1024),
		NodeID:         int64(atoiOr(os.Getenv("NODE_ID"), 1)),
		WriteRPS:       atoiOr(os.Getenv("WRITE_RPS"), 5),
		WriteBurst:     atoiOr(os.Getenv("WRITE_BURST"), 10),
	}
	return cfg, cfg.validate()
}

func (s Server) validate() error {
	if s.DSN == "" {
		return errors.New("DB_DSN is not set")
	}
	if s.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if s.NodeID < 0 || s.NodeID > 1023 {
		return fmt.Errorf("NODE_ID must be within 0..1023 (got %d)", s.NodeID)
	}
	if s.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// LoadClient reads client configuration from the environment.
func LoadClient() (Client, error) {
	env, err := appEnv()
	if err != nil {
		return Client{}, err
	}
	if err := loadDotEnv(env); err != nil {
		return Client{}, err
	}
	cfg := Client{
		AppEnv:        env,
		ServerURL:     strings.TrimRight(stringOr(os.Getenv("CHAT_SERVER"), "http://localhost:8080"), "/"),
		DataDir:       stringOr(os.Getenv("CHAT_DATA_DIR"), defaultDataDir()),
		DefaultAvatar: os.Getenv("CHAT_DEFAULT_AVATAR"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
	}
	if cfg.DefaultAvatar == "" {
		cfg.DefaultAvatar = cfg.ServerURL + "/files/avatar/default.jpg"
	}
	return cfg, nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + string(os.PathSeparator) + "chatline"
	}
	return ".chatline"
}

func stringOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}

// bytesOr accepts plain integers as well as sizes like "8MiB" or "10 MB".
func bytesOr(s string, def int64) int64 {
	if s == "" {
		return def
	}
	if v, err := humanize.ParseBytes(s); err == nil {
		return int64(v)
	}
	return -1
}
