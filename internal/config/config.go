// Package config manages server settings, the bump service catalogue, and per-guild configuration.
package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const (
	defaultRetentionDays = 30
	defaultSweepSchedule = "@daily"
	reloadDebounce       = 250 * time.Millisecond
)

// ServerConfig holds server configuration from environment variables.
type ServerConfig struct {
	DiscordBotToken string
	DBDriver        string
	DatabaseURL     string
	Port            string
	LogLevel        string
	ServicesFile    string
	SweepSchedule   string
	RetentionDays   int
}

// WithDefaults fills unset fields with defaults.
func (c ServerConfig) WithDefaults() ServerConfig {
	if c.Port == "" {
		c.Port = "9119"
	}
	if c.DBDriver == "" {
		c.DBDriver = "sqlite"
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = defaultRetentionDays
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = defaultSweepSchedule
	}
	return c
}

//go:embed services.yaml
var defaultServicesYAML []byte

var serviceNamePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Service describes a bump service whose bot confirms bumps in guild channels.
type Service struct {
	Name            string   `yaml:"name"`
	DisplayName     string   `yaml:"display_name"`
	BotID           string   `yaml:"bot_id"`
	Command         string   `yaml:"command"`
	SuccessKeywords []string `yaml:"success_keywords"`
	CooldownMinutes int      `yaml:"cooldown_minutes"`
}

// Cooldown returns the delay before the service can be bumped again.
func (s Service) Cooldown() time.Duration {
	return time.Duration(s.CooldownMinutes) * time.Minute
}

type catalogFile struct {
	Services []Service `yaml:"services"`
}

// ValidServiceName reports whether name is usable as a reminder sub-partition.
func ValidServiceName(name string) bool {
	return serviceNamePattern.MatchString(name)
}

// ParseCatalog decodes and validates a YAML service catalogue.
func ParseCatalog(data []byte) ([]Service, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(f.Services) == 0 {
		return nil, errors.New("no services defined")
	}

	seen := make(map[string]bool)
	for i := range f.Services {
		svc := &f.Services[i]
		svc.Name = strings.ToLower(strings.TrimSpace(svc.Name))
		if !ValidServiceName(svc.Name) {
			return nil, fmt.Errorf("service %d: invalid name %q", i, svc.Name)
		}
		if seen[svc.Name] {
			return nil, fmt.Errorf("service %q defined twice", svc.Name)
		}
		seen[svc.Name] = true
		if svc.BotID == "" {
			return nil, fmt.Errorf("service %q: bot_id is required", svc.Name)
		}
		if svc.CooldownMinutes <= 0 {
			return nil, fmt.Errorf("service %q: cooldown_minutes must be positive", svc.Name)
		}
		if svc.DisplayName == "" {
			svc.DisplayName = svc.Name
		}
	}
	return f.Services, nil
}

// Catalog holds the active bump services, indexed by bot user id.
type Catalog struct {
	byBot  map[string]Service
	byName map[string]Service
	mu     sync.RWMutex
}

// NewCatalog creates a catalogue preloaded with the built-in services.
func NewCatalog() *Catalog {
	c := &Catalog{}
	services, err := ParseCatalog(defaultServicesYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in services.yaml is invalid: %v", err))
	}
	c.replace(services)
	return c
}

func (c *Catalog) replace(services []Service) {
	byBot := make(map[string]Service, len(services))
	byName := make(map[string]Service, len(services))
	for _, svc := range services {
		byBot[svc.BotID] = svc
		byName[svc.Name] = svc
	}

	c.mu.Lock()
	c.byBot = byBot
	c.byName = byName
	c.mu.Unlock()
}

// LoadFile replaces the catalogue with the services defined in path.
// On error the previous catalogue is kept.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read services file: %w", err)
	}
	services, err := ParseCatalog(data)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	c.replace(services)
	slog.Info("loaded service catalogue", "path", path, "services", len(services))
	return nil
}

// ByBot returns the service whose bot has the given user id.
func (c *Catalog) ByBot(botID string) (Service, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	svc, ok := c.byBot[botID]
	return svc, ok
}

// ByName returns a service by name.
func (c *Catalog) ByName(name string) (Service, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	svc, ok := c.byName[strings.ToLower(name)]
	return svc, ok
}

// Services returns all services sorted by name.
func (c *Catalog) Services() []Service {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Service, 0, len(c.byName))
	for _, svc := range c.byName {
		result = append(result, svc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Watch reloads the catalogue whenever path changes, until ctx is done.
// The parent directory is watched so editors that replace the file are handled.
func (c *Catalog) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close() //nolint:errcheck // best-effort close on shutdown

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve services path: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce = time.After(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("service catalogue watcher error", "error", err)
		case <-debounce:
			debounce = nil
			if err := c.LoadFile(abs); err != nil {
				slog.Warn("failed to reload service catalogue, keeping previous", "error", err)
			}
		}
	}
}
