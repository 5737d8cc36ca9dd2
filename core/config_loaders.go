package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const EnvPrefix = "MAILEVENTS_"

// YAMLFileLoader reads a raw config map from a YAML file. A missing file
// yields an empty map unless Required is set.
type YAMLFileLoader struct {
	Path     string
	Required bool
}

func (l YAMLFileLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !l.Required {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("core: read config file %q: %w", path, err)
	}
	raw := map[string]any{}
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	if err := decoder.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("core: parse config file %q: %w", path, err)
	}
	return raw, nil
}

type envKind int

const (
	envString envKind = iota
	envInt
	envBool
)

type envBinding struct {
	path []string
	kind envKind
}

// envBindings maps environment variables (without prefix) onto config keys.
var envBindings = map[string]envBinding{
	"SERVICE_NAME":                         {path: []string{"service_name"}},
	"WEBHOOK_PATH":                         {path: []string{"webhook", "path"}},
	"WEBHOOK_SECRET":                       {path: []string{"webhook", "secret"}},
	"WEBHOOK_TIMEOUT_SECONDS":              {path: []string{"webhook", "timeout_seconds"}, kind: envInt},
	"WEBHOOK_REPLAY_WINDOW_SECONDS":        {path: []string{"webhook", "replay_window_seconds"}, kind: envInt},
	"WEBHOOK_MAX_BODY_BYTES":               {path: []string{"webhook", "max_body_bytes"}, kind: envInt},
	"PROCESSING_BATCH_SIZE":                {path: []string{"processing", "batch_size"}, kind: envInt},
	"PROCESSING_MAX_RETRIES":               {path: []string{"processing", "max_retries"}, kind: envInt},
	"PROCESSING_HANDLER_TIMEOUT_SECONDS":   {path: []string{"processing", "handler_timeout_seconds"}, kind: envInt},
	"PROCESSING_STALE_AFTER_SECONDS":       {path: []string{"processing", "stale_after_seconds"}, kind: envInt},
	"PROCESSING_SCHEDULE_INTERVAL_SECONDS": {path: []string{"processing", "schedule_interval_seconds"}, kind: envInt},
	"PROCESSING_RETRY_INTERVAL_SECONDS":    {path: []string{"processing", "retry_interval_seconds"}, kind: envInt},
	"DATABASE_DRIVER":                      {path: []string{"database", "driver"}},
	"DATABASE_DSN":                         {path: []string{"database", "dsn"}},
	"DATABASE_DEBUG":                       {path: []string{"database", "debug"}, kind: envBool},
	"DATABASE_PING_TIMEOUT_SECONDS":        {path: []string{"database", "ping_timeout_seconds"}, kind: envInt},
	"HTTP_ADDRESS":                         {path: []string{"http", "address"}},
	"HTTP_ADMIN_ENABLED":                   {path: []string{"http", "admin_enabled"}, kind: envBool},
}

// legacyEnvBindings keeps the provider-named settings working.
var legacyEnvBindings = map[string]string{
	"RESEND_WEBHOOK_SECRET":  "WEBHOOK_SECRET",
	"RESEND_WEBHOOK_TIMEOUT": "WEBHOOK_TIMEOUT_SECONDS",
}

// EnvLoader reads MAILEVENTS_* variables into a raw config map. Prefixed
// variables win over the legacy provider names.
type EnvLoader struct {
	Prefix string
	Lookup func(key string) (string, bool)
}

func (l EnvLoader) LoadRaw(context.Context) (map[string]any, error) {
	prefix := l.Prefix
	if prefix == "" {
		prefix = EnvPrefix
	}
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	raw := map[string]any{}
	for legacy, name := range legacyEnvBindings {
		if value, ok := lookup(legacy); ok {
			if err := setEnvValue(raw, legacy, envBindings[name], value); err != nil {
				return nil, err
			}
		}
	}
	for name, binding := range envBindings {
		key := prefix + name
		value, ok := lookup(key)
		if !ok {
			continue
		}
		if err := setEnvValue(raw, key, binding, value); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func setEnvValue(raw map[string]any, key string, binding envBinding, value string) error {
	value = strings.TrimSpace(value)
	var typed any = value
	switch binding.kind {
	case envInt:
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("core: env %s must be an integer: %w", key, err)
		}
		typed = parsed
	case envBool:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("core: env %s must be a boolean: %w", key, err)
		}
		typed = parsed
	}
	setPath(raw, binding.path, typed)
	return nil
}

// LayeredLoader deep-merges its loaders in order; later loaders win.
type LayeredLoader []RawConfigLoader

func (l LayeredLoader) LoadRaw(ctx context.Context) (map[string]any, error) {
	merged := map[string]any{}
	for _, loader := range l {
		if loader == nil {
			continue
		}
		raw, err := loader.LoadRaw(ctx)
		if err != nil {
			return nil, err
		}
		mergeRaw(merged, raw)
	}
	return merged, nil
}

func mergeRaw(dst, src map[string]any) {
	for key, value := range src {
		nested, ok := value.(map[string]any)
		if !ok {
			dst[key] = value
			continue
		}
		existing, ok := dst[key].(map[string]any)
		if !ok {
			existing = map[string]any{}
			dst[key] = existing
		}
		mergeRaw(existing, nested)
	}
}

func setPath(target map[string]any, path []string, value any) {
	if len(path) == 0 {
		return
	}
	current := target
	for _, key := range path[:len(path)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
}

// LoadConfig resolves the service config from an optional YAML file and the
// environment, layered over defaults.
func LoadConfig(ctx context.Context, path string, runtime Config) (Config, error) {
	provider := NewCfgxConfigProvider(LayeredLoader{
		YAMLFileLoader{Path: path},
		EnvLoader{},
	})
	defaults := DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}
