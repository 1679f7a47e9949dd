package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/hanpama/notegraph/internal/eventbus"
	"github.com/hanpama/notegraph/internal/language"
	"github.com/hanpama/notegraph/internal/loader"
	"github.com/hanpama/notegraph/internal/metric"
	"github.com/hanpama/notegraph/internal/mongostore"
	"github.com/hanpama/notegraph/internal/notes"
	"github.com/hanpama/notegraph/internal/otel"
	"github.com/hanpama/notegraph/internal/pipeline"
	"github.com/hanpama/notegraph/internal/query"
	"github.com/hanpama/notegraph/internal/reqid"
)

const rootUsage = `notegraph: batched document queries over notes and users

USAGE:
  notegraph <command> [flags]

COMMANDS:
  explain          Print the aggregation pipeline a load would run
  load             Load entities from MongoDB and print them as JSON
  help             Show help for any command
`

const explainUsage = `explain FLAGS:
  -entity <note|user>      Entity to read (default: note)
  -id <hex>                Entity id. Repeatable
  -user <hex>              Owner of the notes (note entity only)
  -query <selection>       GraphQL selection, or @file to read it from a file (required)
  -operation <name>        Operation to use when the document has several
  -vars <json>             Variables as a JSON object
`

const loadUsage = `load FLAGS:
  -config <file>           YAML configuration file
  -entity <note|user>      Entity to read (default: note)
  -id <hex>                Entity id. Repeatable; at least one required
  -user <hex>              Owner of the notes (note entity only)
  -query <selection>       GraphQL selection, or @file to read it from a file (required)
  -operation <name>        Operation to use when the document has several
  -vars <json>             Variables as a JSON object
  -mongo.uri <uri>         MongoDB connection string
  -mongo.database <name>   Database name (default: notegraph)
  -mongo.timeout <dur>     Per-aggregation timeout (default: 10s)
  -loader.wait <dur>       Batch collection window (default: 0, batch per tick)
  -loader.max-batch <n>    Maximum keys per batch (default: unlimited)
  -otel.endpoint <addr>    OTLP collector endpoint
  -otel.service <name>     OpenTelemetry service name (default: notegraph)
  -metrics.out <file>      Write Prometheus metrics to file after loading
  -log.level <level>       debug, info, warn or error (default: info)
  -log.format <format>     text or json (default: text)
`

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("notegraph", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "explain":
		return cmdExplain(cmdArgs, stdout, stderr)
	case "load":
		return cmdLoad(cmdArgs, stdout, stderr)
	case "help":
		return cmdHelp(cmdArgs, stdout)
	default:
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "explain":
		fmt.Fprint(stdout, explainUsage)
	case "load":
		fmt.Fprint(stdout, loadUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return strings.Join(*s, ",") }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// request is what explain and load share: which entities to read and with
// which selection.
type request struct {
	entity    string
	ids       stringListFlag
	user      string
	query     string
	operation string
	vars      string
}

func (r *request) bind(fs *flag.FlagSet) {
	fs.StringVar(&r.entity, "entity", "note", "Entity to read")
	fs.Var(&r.ids, "id", "Entity id")
	fs.StringVar(&r.user, "user", "", "Owner of the notes")
	fs.StringVar(&r.query, "query", "", "GraphQL selection")
	fs.StringVar(&r.operation, "operation", "", "Operation name")
	fs.StringVar(&r.vars, "vars", "", "Variables as JSON")
}

func (r *request) selection() (query.Node, error) {
	src := r.query
	if src == "" {
		return nil, fmt.Errorf("-query is required")
	}
	if path, ok := strings.CutPrefix(src, "@"); ok {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read query: %w", err)
		}
		src = string(raw)
	}
	var vars map[string]any
	if r.vars != "" {
		if err := json.Unmarshal([]byte(r.vars), &vars); err != nil {
			return nil, fmt.Errorf("parse -vars: %w", err)
		}
	}
	doc, err := language.ParseQuery(src)
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	return language.Translate(doc, r.operation, vars)
}

func (r *request) objectIDs() ([]bson.ObjectID, error) {
	ids := make([]bson.ObjectID, 0, len(r.ids))
	for _, s := range r.ids {
		id, err := bson.ObjectIDFromHex(s)
		if err != nil {
			return nil, fmt.Errorf("invalid -id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *request) noteKeys() ([]notes.NoteKey, error) {
	owner, err := bson.ObjectIDFromHex(r.user)
	if err != nil {
		return nil, fmt.Errorf("invalid -user %q: %w", r.user, err)
	}
	ids, err := r.objectIDs()
	if err != nil {
		return nil, err
	}
	keys := make([]notes.NoteKey, len(ids))
	for i, id := range ids {
		keys[i] = notes.NoteKey{UserID: owner, NoteID: id}
	}
	return keys, nil
}

func cmdExplain(args []string, stdout, stderr io.Writer) error {
	var req request
	fs := flag.NewFlagSet("explain", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	req.bind(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, explainUsage)
		return err
	}
	q, err := req.selection()
	if err != nil {
		return err
	}
	l, err := notes.NewLoaders(nil)
	if err != nil {
		return err
	}
	defer l.Close()

	m := query.Merge(q)
	var p pipeline.Pipeline
	switch req.entity {
	case "user":
		ids, err := req.objectIDs()
		if err != nil {
			return err
		}
		p, err = l.UserSource.Pipeline(ids, "", m)
		if err != nil {
			return err
		}
	case "note":
		keys, err := req.noteKeys()
		if err != nil {
			return err
		}
		p, err = l.NoteSource.Pipeline(keys, req.user, m)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown entity %q", req.entity)
	}
	out, err := p.ExtJSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, out)
	return nil
}

func cmdLoad(args []string, stdout, stderr io.Writer) error {
	var req request
	var configPath, metricsOut string
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	req.bind(fs)
	fs.StringVar(&configPath, "config", "", "YAML configuration file")
	fs.StringVar(&metricsOut, "metrics.out", "", "Write Prometheus metrics to file")
	overrides := bindOverrides(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, loadUsage)
		return err
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	overrides.apply(fs, &cfg)

	if len(req.ids) == 0 {
		fmt.Fprint(stderr, loadUsage)
		return fmt.Errorf("at least one -id is required")
	}
	q, err := req.selection()
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)
	shutdown, err := otel.Setup(cfg.Otel.Endpoint, cfg.Otel.Service)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()
	registry := prometheus.NewRegistry()
	unregister, err := metric.Register(registry)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	defer unregister()

	ctx, rid := reqid.NewContext(context.Background())
	logger.DebugContext(ctx, "load", "request_id", rid.String(), "entity", req.entity, "ids", len(req.ids))

	store, err := mongostore.Connect(ctx, cfg.Mongo.URI,
		mongostore.WithDatabase(cfg.Mongo.Database),
		mongostore.WithTimeout(cfg.Mongo.Timeout),
		mongostore.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(context.WithoutCancel(ctx)) }()

	lopts := []loader.Option{
		loader.WithLogger(logger),
		loader.WithWait(cfg.Loader.Wait),
		loader.WithMaxConcurrency(cfg.Loader.MaxConcurrency),
		loader.WithCacheMetrics(registry),
	}
	if cfg.Loader.MaxBatch > 0 {
		lopts = append(lopts, loader.WithMaxBatch(cfg.Loader.MaxBatch))
	}
	if cfg.Loader.CacheSize > 0 {
		lopts = append(lopts, loader.WithCacheSize(cfg.Loader.CacheSize))
	}
	l, err := notes.NewLoaders(store, lopts...)
	if err != nil {
		return err
	}
	defer l.Close()

	results, err := loadAll(ctx, l, &req, q)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}
	if metricsOut != "" {
		if err := prometheus.WriteToTextfile(metricsOut, registry); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

// loadAll registers every id, then flushes so every owner group is read
// concurrently before the results are collected.
func loadAll(ctx context.Context, l *notes.Loaders, req *request, q query.Node) (map[string]any, error) {
	out := make(map[string]any, len(req.ids))
	switch req.entity {
	case "user":
		ids, err := req.objectIDs()
		if err != nil {
			return nil, err
		}
		thunks := make([]*loader.Thunk[bson.ObjectID], len(ids))
		for i, id := range ids {
			thunks[i] = l.Users.LoadThunk(ctx, id, q)
		}
		l.Users.Flush()
		for i, th := range thunks {
			v, err := th.Get(ctx)
			if err != nil {
				return nil, fmt.Errorf("user %s: %w", ids[i].Hex(), err)
			}
			out[ids[i].Hex()] = v
		}
	case "note":
		keys, err := req.noteKeys()
		if err != nil {
			return nil, err
		}
		thunks := make([]*loader.Thunk[notes.NoteKey], len(keys))
		for i, k := range keys {
			thunks[i] = l.Notes.LoadThunk(ctx, k, q)
		}
		l.Notes.Flush()
		for i, th := range thunks {
			v, err := th.Get(ctx)
			if err != nil {
				return nil, fmt.Errorf("note %s: %w", keys[i].NoteID.Hex(), err)
			}
			out[keys[i].NoteID.Hex()] = v
		}
	default:
		return nil, fmt.Errorf("unknown entity %q", req.entity)
	}
	return out, nil
}

// overrideFlags are load flags that take precedence over the config file
// when given.
type overrideFlags struct {
	uri, database, otelEndpoint, otelService, logLevel, logFormat *string
	timeout, wait                                                 *time.Duration
	maxBatch                                                      *int
}

func bindOverrides(fs *flag.FlagSet) *overrideFlags {
	o := &overrideFlags{
		uri:          fs.String("mongo.uri", "", "MongoDB connection string"),
		database:     fs.String("mongo.database", "", "Database name"),
		otelEndpoint: fs.String("otel.endpoint", "", "OTLP collector endpoint"),
		otelService:  fs.String("otel.service", "", "OpenTelemetry service name"),
		logLevel:     fs.String("log.level", "", "Log level"),
		logFormat:    fs.String("log.format", "", "Log format"),
		timeout:      fs.Duration("mongo.timeout", 0, "Per-aggregation timeout"),
		wait:         fs.Duration("loader.wait", 0, "Batch collection window"),
		maxBatch:     fs.Int("loader.max-batch", 0, "Maximum keys per batch"),
	}
	return o
}

func (o *overrideFlags) apply(fs *flag.FlagSet, c *config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mongo.uri":
			c.Mongo.URI = *o.uri
		case "mongo.database":
			c.Mongo.Database = *o.database
		case "mongo.timeout":
			c.Mongo.Timeout = *o.timeout
		case "loader.wait":
			c.Loader.Wait = *o.wait
		case "loader.max-batch":
			c.Loader.MaxBatch = *o.maxBatch
		case "otel.endpoint":
			c.Otel.Endpoint = *o.otelEndpoint
		case "otel.service":
			c.Otel.Service = *o.otelService
		case "log.level":
			c.Log.Level = *o.logLevel
		case "log.format":
			c.Log.Format = *o.logFormat
		}
	})
}
