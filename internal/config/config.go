// Package config loads host configuration from CUE or YAML files and
// validates it against an embedded CUE schema.
package config

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/roach88/effectcore/execlog"
	"github.com/roach88/effectcore/execlog/boltstore"
	"github.com/roach88/effectcore/execlog/sqlitestore"
	"github.com/roach88/effectcore/executor"
	"github.com/roach88/effectcore/internal/logging"
)

//go:embed schema.cue
var schemaSource string

// Store kinds.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreBolt   = "bolt"
)

// Config is the validated host configuration.
type Config struct {
	Store            string `json:"store"`
	Path             string `json:"path"`
	AcquireTimeoutMS int64  `json:"acquire_timeout_ms"`
	MaxInFlight      int64  `json:"max_in_flight"`
	MaxDepth         int    `json:"max_depth"`
	SharedObserve    bool   `json:"shared_observe"`
	CacheSize        int64  `json:"cache_size"`
	Log              Log    `json:"log"`
}

// Log configures the zap logger.
type Log struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// Error is a configuration problem, positioned in the source file when CUE
// can tell where.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the configuration an empty file produces.
func Default() Config {
	cfg, err := decode(cuecontext.New(), nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema: %v", err))
	}
	return cfg
}

// Load reads path. Files ending in .cue are compiled as CUE; .yaml and
// .yml are decoded as YAML. Either way the result is unified with the
// schema, so unknown fields and out-of-range values are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		return ParseCUE(path, data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return Config{}, fmt.Errorf("config: unsupported file type %q", ext)
	}
}

// ParseCUE validates CUE source. filename is used in error positions.
func ParseCUE(filename string, data []byte) (Config, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}
	return decode(ctx, &v)
}

// ParseYAML validates YAML source.
func ParseYAML(data []byte) (Config, error) {
	var raw map[string]any
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: parse yaml: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	ctx := cuecontext.New()
	v := ctx.Encode(raw)
	if err := v.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}
	return decode(ctx, &v)
}

func decode(ctx *cue.Context, user *cue.Value) (Config, error) {
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))
	if user != nil {
		v = v.Unify(*user)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}
	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return Config{}, formatCUEError(err)
	}
	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) check() error {
	if c.Store != StoreMemory && c.Path == "" {
		return &Error{Field: "path", Message: fmt.Sprintf("required for the %s store", c.Store)}
	}
	return nil
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	e := &Error{Field: pathOf(first), Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}

func pathOf(err cueerrors.Error) string {
	if p := err.Path(); len(p) > 0 {
		return strings.Join(p, ".")
	}
	return "config"
}

// AcquireTimeout is the per-resource wait bound as a duration.
func (c Config) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutMS) * time.Millisecond
}

// Logger builds the configured logger.
func (c Config) Logger() (*zap.Logger, error) {
	return logging.New(logging.Options{Level: c.Log.Level, Development: c.Log.Development})
}

// ExecutorOptions translates c into executor options. logger may be nil.
func (c Config) ExecutorOptions(logger *zap.Logger) []executor.Option {
	opts := []executor.Option{
		executor.WithAcquireTimeout(c.AcquireTimeout()),
		executor.WithMaxInFlight(c.MaxInFlight),
		executor.WithMaxDepth(c.MaxDepth),
	}
	if c.SharedObserve {
		opts = append(opts, executor.WithSharedObserve())
	}
	if logger != nil {
		opts = append(opts, executor.WithLogger(logger))
	}
	return opts
}

// OpenStore opens the configured record store, wrapped in a read cache
// when CacheSize is set.
func (c Config) OpenStore(ctx context.Context) (execlog.Store, error) {
	var (
		store execlog.Store
		err   error
	)
	switch c.Store {
	case StoreMemory:
		store = execlog.NewMemoryStore()
	case StoreSQLite:
		store, err = sqlitestore.Open(c.Path)
	case StoreBolt:
		store, err = boltstore.Open(ctx, c.Path, 0o600)
	default:
		return nil, &Error{Field: "store", Message: fmt.Sprintf("unknown store %q", c.Store)}
	}
	if err != nil {
		return nil, err
	}
	if c.CacheSize > 0 {
		cached, err := execlog.NewCachedStore(store, c.CacheSize)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		return cached, nil
	}
	return store, nil
}
