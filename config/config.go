// Package config loads a pool manager's file-based configuration from
// TOML (with a flat key=value fallback for files with any other extension) onto the pool
// engine's Options/Config split.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/serverlesspool/poolengine/pool"
)

// File is the on-disk shape of a manager's configuration: a handful of
// scalar fields under one top-level table, rather than a config grammar of
// its own.
type File struct {
	Manager struct {
		Name              string `toml:"name"`
		ResourceType      string `toml:"resource_type"`
		MaxPoolSize        int    `toml:"max_pool_size"`
		MinPoolSize        int    `toml:"min_pool_size"`
		PoolCheckInterval  string `toml:"pool_check_interval"`
		ShutdownTimeout    string `toml:"shutdown_timeout"`
		CreationTimeout    string `toml:"creation_timeout"`
		MonitorInterval    string `toml:"monitor_interval"`
		CreationRate       float64 `toml:"creation_rate"`
		CreationBurst      int     `toml:"creation_burst"`
	} `toml:"manager"`

	Resource struct {
		ScriptDirPath        string   `toml:"script_dir_path"`
		ScriptFiles          []string `toml:"script_files"`
		DefaultImageName     string   `toml:"default_image_name"`
		DefaultContainerName string   `toml:"default_container_name"`
		Namespace            string   `toml:"namespace"`
		DefaultPodName       string   `toml:"default_pod_name"`
		DefaultPodPort       int      `toml:"default_pod_port"`
	} `toml:"resource"`
}

// DefaultFile returns a File with the same defaults as pool.defaultOptions,
// so a manager started from a missing config file behaves identically to
// one started with pool.New(adapter) and no options.
func DefaultFile() *File {
	f := &File{}
	f.Manager.Name = "default"
	f.Manager.ResourceType = "worker"
	f.Manager.MaxPoolSize = 3
	f.Manager.MinPoolSize = 0
	f.Manager.PoolCheckInterval = "10s"
	f.Manager.ShutdownTimeout = "5s"
	f.Manager.CreationTimeout = "30s"
	f.Manager.MonitorInterval = "5s"
	f.Manager.CreationRate = 2
	f.Manager.CreationBurst = 1
	return f
}

// Load reads path and dispatches on its extension: ".toml", or no
// extension, is parsed with go-toml/v2; anything else falls back to
// parseFlatInto's indented key=value form, so no extension is rejected. A missing file returns the defaults, matching LoadConfig's
// not-an-error-to-be-absent behavior.
func Load(path string) (*File, error) {
	f := DefaultFile()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", "":
		if err := toml.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := parseFlatInto(f, data); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return f, nil
}

// Save writes f back out as TOML, creating the parent directory if needed.
func Save(f *File, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate rejects configurations an Engine could not be built from.
// Unrecognized resource types are left to the caller, since adding an
// adapter kind here would make this package the place new backends have to
// be registered.
func (f *File) Validate() error {
	if f.Manager.Name == "" {
		return fmt.Errorf("manager.name is required")
	}
	if f.Manager.MaxPoolSize < 1 {
		return fmt.Errorf("manager.max_pool_size must be at least 1")
	}
	if f.Manager.MinPoolSize < 0 {
		return fmt.Errorf("manager.min_pool_size must not be negative")
	}
	for _, d := range []string{f.Manager.PoolCheckInterval, f.Manager.ShutdownTimeout, f.Manager.CreationTimeout, f.Manager.MonitorInterval} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid duration %q: %w", d, err)
		}
	}
	return nil
}

// Options maps the manager table onto pool.Options, going through the
// functional-options constructors instead of exposing a struct literal
// that callers could build incompletely.
func (f *File) Options() ([]pool.Option, error) {
	opts := []pool.Option{
		pool.WithManagerName(f.Manager.Name),
		pool.WithMaxPoolSize(f.Manager.MaxPoolSize),
		pool.WithMinPoolSize(f.Manager.MinPoolSize),
		pool.WithCreationRate(f.Manager.CreationRate, f.Manager.CreationBurst),
	}

	durations := []struct {
		raw string
		opt func(time.Duration) pool.Option
	}{
		{f.Manager.PoolCheckInterval, pool.WithPoolCheckInterval},
		{f.Manager.ShutdownTimeout, pool.WithShutdownTimeout},
		{f.Manager.CreationTimeout, pool.WithCreationTimeout},
		{f.Manager.MonitorInterval, pool.WithMonitorInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", d.raw, err)
		}
		opts = append(opts, d.opt(parsed))
	}
	return opts, nil
}

// Config maps the resource table onto the per-acquire pool.Config used for
// pre-warming and for callers that acquire with the file's defaults.
func (f *File) Config() pool.Config {
	return pool.Config{
		ScriptDirPath:        f.Resource.ScriptDirPath,
		ScriptFiles:          f.Resource.ScriptFiles,
		DefaultImageName:     f.Resource.DefaultImageName,
		DefaultContainerName: f.Resource.DefaultContainerName,
		Namespace:            f.Resource.Namespace,
		DefaultPodName:       f.Resource.DefaultPodName,
		DefaultPodPort:       f.Resource.DefaultPodPort,
	}
}

// parseFlatInto fills f from an indented "key = value" file, one setting
// per line, dotted keys addressing the same fields the TOML tables do
// (manager.name, resource.namespace, ...). This is the "or an indented
// key-value form" fallback; it only understands scalar fields, not the
// script_files list.
func parseFlatInto(f *File, data []byte) error {
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("malformed line %q", line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if err := setFlatField(f, key, value); err != nil {
			return err
		}
	}
	return sc.Err()
}

func setFlatField(f *File, key, value string) error {
	switch key {
	case "manager.name":
		f.Manager.Name = value
	case "manager.resource_type":
		f.Manager.ResourceType = value
	case "manager.max_pool_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		f.Manager.MaxPoolSize = n
	case "manager.min_pool_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		f.Manager.MinPoolSize = n
	case "manager.pool_check_interval":
		f.Manager.PoolCheckInterval = value
	case "manager.shutdown_timeout":
		f.Manager.ShutdownTimeout = value
	case "manager.creation_timeout":
		f.Manager.CreationTimeout = value
	case "manager.monitor_interval":
		f.Manager.MonitorInterval = value
	case "manager.creation_rate":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		f.Manager.CreationRate = v
	case "manager.creation_burst":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		f.Manager.CreationBurst = n
	case "resource.script_dir_path":
		f.Resource.ScriptDirPath = value
	case "resource.default_image_name":
		f.Resource.DefaultImageName = value
	case "resource.default_container_name":
		f.Resource.DefaultContainerName = value
	case "resource.namespace":
		f.Resource.Namespace = value
	case "resource.default_pod_name":
		f.Resource.DefaultPodName = value
	case "resource.default_pod_port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		f.Resource.DefaultPodPort = n
	default:
		return fmt.Errorf("unrecognized key %q", key)
	}
	return nil
}
