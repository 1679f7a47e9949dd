package mongostore

import (
	"log/slog"
	"time"
)

// Options configures a Store.
//
// Defaults:
// - Database:     "notegraph"
// - Timeout:      10s (used only if the context has no deadline)
// - AllowDiskUse: true
// - Logger:       slog.Default()
type Options struct {
	Database     string
	Timeout      time.Duration
	AllowDiskUse bool
	Logger       *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Database:     "notegraph",
		Timeout:      10 * time.Second,
		AllowDiskUse: true,
		Logger:       slog.Default(),
	}
}

func WithDatabase(name string) Option    { return func(o *Options) { o.Database = name } }
func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithAllowDiskUse(allow bool) Option { return func(o *Options) { o.AllowDiskUse = allow } }
func WithLogger(l *slog.Logger) Option   { return func(o *Options) { o.Logger = l } }
