package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// config is the YAML file read by -config. Flags given on the command line
// override it.
type config struct {
	Mongo struct {
		URI      string        `yaml:"uri"`
		Database string        `yaml:"database"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"mongo"`
	Loader struct {
		Wait           time.Duration `yaml:"wait"`
		MaxBatch       int           `yaml:"maxBatch"`
		MaxConcurrency int           `yaml:"maxConcurrency"`
		CacheSize      int           `yaml:"cacheSize"`
	} `yaml:"loader"`
	Otel struct {
		Endpoint string `yaml:"endpoint"`
		Service  string `yaml:"service"`
	} `yaml:"otel"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func defaultConfig() config {
	var c config
	c.Mongo.URI = "mongodb://localhost:27017"
	c.Mongo.Database = "notegraph"
	c.Mongo.Timeout = 10 * time.Second
	c.Loader.MaxConcurrency = 8
	c.Otel.Service = "notegraph"
	c.Log.Level = "info"
	c.Log.Format = "text"
	return c
}

// loadConfig reads path over the defaults. An empty path returns the
// defaults.
func loadConfig(path string) (config, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q", format)
}
