// Package config provides Wildland's on-disk configuration (spec §4.8),
// following the nested-struct gopkg.in/yaml.v3 style of
// sdn-server/internal/config/config.go.
package config

import (
	"fmt"
	"os"
	"regexp"

	logging "github.com/ipfs/go-log/v2"
	"gopkg.in/yaml.v3"

	"github.com/pbeza/wildland-client/internal/wlerrors"
)

var log = logging.Logger("wl-config")

var aliasNameRegex = regexp.MustCompile(`^@[a-z][a-z0-9-]*$`)

// Config is the single YAML configuration file read at startup by both
// MountCore and SyncDaemon (spec §4.8).
type Config struct {
	UserDir             string            `yaml:"user-dir"`
	StorageDir          string            `yaml:"storage-dir"`
	CacheDir            string            `yaml:"cache-dir"`
	ContainerDir        string            `yaml:"container-dir"`
	BridgeDir           string            `yaml:"bridge-dir"`
	KeyDir              string            `yaml:"key-dir"`
	MountDir            string            `yaml:"mount-dir"`
	TemplateDir         string            `yaml:"template-dir"`
	FSSocketPath        string            `yaml:"fs-socket-path"`
	SyncSocketPath      string            `yaml:"sync-socket-path"`
	AltBridgeSeparator  string            `yaml:"alt-bridge-separator,omitempty"`
	Dummy               bool              `yaml:"dummy,omitempty"`
	Default             string            `yaml:"@default,omitempty"`
	DefaultOwner        string            `yaml:"@default-owner,omitempty"`
	Aliases             map[string]string `yaml:"aliases,omitempty"`
	LocalHostname       string            `yaml:"local-hostname,omitempty"`
	LocalOwners         []string          `yaml:"local-owners,omitempty"`
	DefaultContainers   []string          `yaml:"default-containers,omitempty"`
	DefaultCacheTemplate string           `yaml:"default-cache-template,omitempty"`
	DefaultRemoteForContainer map[string]string `yaml:"default-remote-for-container,omitempty"`
}

// Load reads and validates the YAML config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, wlerrors.ErrSchema)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate enforces the §4.8 alias-name constraint and that the socket
// paths required by both daemons are set.
func (c *Config) Validate() error {
	for alias := range c.Aliases {
		if !aliasNameRegex.MatchString(alias) {
			return fmt.Errorf("config: alias %q does not match ^@[a-z][a-z0-9-]*$: %w", alias, wlerrors.ErrSchema)
		}
	}
	if c.FSSocketPath == "" {
		return fmt.Errorf("config: fs-socket-path is required: %w", wlerrors.ErrSchema)
	}
	if c.SyncSocketPath == "" {
		return fmt.Errorf("config: sync-socket-path is required: %w", wlerrors.ErrSchema)
	}
	return nil
}

// Save writes c back to path atomically (write-temp-then-rename), matching
// the atomicity requirement for catalog operations in spec §4.8.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return atomicWriteFile(path, data, 0644)
}

// Default returns a Config with Wildland's conventional per-type directory
// layout rooted at base.
func Default(base string) *Config {
	join := func(name string) string { return base + "/" + name }
	return &Config{
		UserDir:        join("users"),
		StorageDir:     join("storage"),
		CacheDir:       join("cache"),
		ContainerDir:   join("containers"),
		BridgeDir:      join("bridges"),
		KeyDir:         join("keys"),
		MountDir:       join("mnt"),
		TemplateDir:    join("templates"),
		FSSocketPath:   join("wlfuse.sock"),
		SyncSocketPath: join("wlsync.sock"),
		Aliases:        map[string]string{},
	}
}

func (c *Config) ResolveAlias(alias string) (string, bool) {
	owner, ok := c.Aliases[alias]
	return owner, ok
}
