package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Tunables is the subset of configuration that may change at runtime.
// Structural fields (port, cache capacity, voice directory) require a restart.
type Tunables struct {
	ShortThreshold     int
	MediumThreshold    int
	LongThreshold      int
	MemoryCeilingBytes uint64
	TargetRTF          float64
	MaxLatencyMs       int
}

// tunables extracts the hot-reloadable subset from a full config
func (c *Config) tunables() Tunables {
	return Tunables{
		ShortThreshold:     c.ShortThreshold,
		MediumThreshold:    c.MediumThreshold,
		LongThreshold:      c.LongThreshold,
		MemoryCeilingBytes: c.MemoryCeilingBytes,
		TargetRTF:          c.TargetRTF,
		MaxLatencyMs:       c.MaxLatencyMs,
	}
}

// Watch monitors the given .env file and invokes onChange with the re-read
// tunable subset whenever it is written. Invalid reloads are skipped; the
// previous values stay in effect. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, envPath string, onChange func(Tunables)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: editors replace the file on
	// save, which would otherwise drop the watch.
	dir := filepath.Dir(envPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(envPath)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := reload(envPath)
			if err != nil {
				// Keep running with the previous values
				continue
			}
			onChange(cfg.tunables())

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}

// reload re-reads the env file on top of the current environment and
// revalidates the result
func reload(envPath string) (*Config, error) {
	if err := godotenv.Overload(envPath); err != nil {
		return nil, fmt.Errorf("failed to reload %s: %w", envPath, err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process reloaded config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
