package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	ServerURL string `json:"server_url"`
	DataDir   string `json:"data_dir"`
	LogLevel  string `json:"log_level"`
	Chat      struct {
		HistoryLimit int `json:"history_limit"`
	} `json:"chat"`
	Transfer struct {
		ChunkSize      int `json:"chunk_size"`
		SessionTimeout int `json:"session_timeout_seconds"`
	} `json:"transfer"`
	Stream struct {
		FPS     int     `json:"fps"`
		Quality int     `json:"quality"`
		Scale   float64 `json:"scale"`
	} `json:"stream"`
	Telemetry struct {
		Schedule string `json:"schedule"`
	} `json:"telemetry"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
	MaxConcurrent int `json:"max_concurrent"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		ServerURL:     "http://localhost:8080",
		DataDir:       filepath.Join(os.Getenv("HOME"), ".hallmonitor"),
		LogLevel:      "info",
		MaxConcurrent: 4,
	}
	cfg.Chat.HistoryLimit = 100
	cfg.Transfer.ChunkSize = 64 * 1024
	cfg.Transfer.SessionTimeout = 300
	cfg.Stream.FPS = 10
	cfg.Stream.Quality = 60
	cfg.Stream.Scale = 0.5
	cfg.Telemetry.Schedule = "@every 1m"
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = "127.0.0.1:7430"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if url := os.Getenv("HALLMONITOR_SERVER_URL"); url != "" {
		cfg.ServerURL = url
	}
	if dir := os.Getenv("HALLMONITOR_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	return cfg, nil
}

// Save writes cfg to path atomically.
func Save(path string, cfg *Config) error {
	return writeDefaults(path, cfg)
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
