package p4mesh

import (
	"context"
	"os"
	"path/filepath"
	"reflect"

	"github.com/fsnotify/fsnotify"
)

// watchConfig watches the config file and sends every successfully loaded config that differs from
// the previously seen one. The watch stops when ctx is cancelled, the returned done channel is
// closed once it has.
func (m *manager) watchConfig(ctx context.Context) (<-chan *Config, <-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}

	// editors often replace the file rather than write it, so watch the directory not the file
	err = watcher.Add(filepath.Dir(m.configPath))
	if err != nil {
		_ = watcher.Close()

		return nil, nil, err
	}

	reloads := make(chan *Config)
	done := make(chan struct{})

	current := m.config

	go func() {
		defer func() {
			_ = watcher.Close()

			close(done)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					m.log.Warn("config watch event channel closed, live reload stopped")

					return
				}

				m.log.Debugf("got config watch event %q", event)

				if event.Name != m.configPath ||
					!(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}

				newConfig := m.reloadConfig(current)
				if newConfig == nil {
					continue
				}

				select {
				case reloads <- newConfig:
					current = newConfig
				case <-ctx.Done():
					return
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					m.log.Warn("config watch error channel closed, live reload stopped")

					return
				}

				m.log.Warnf("config watch error, err: %s", watchErr)
			}
		}
	}()

	return reloads, done, nil
}

// reloadConfig loads the config file, returning nil if it could not be loaded or did not change.
func (m *manager) reloadConfig(current *Config) *Config {
	m.log.Info("processing config update...")

	info, err := os.Stat(m.configPath)
	if err != nil || info.Size() == 0 {
		// truncated by a writer that is not done yet, a later write event follows
		m.log.Debug("config file missing or empty, waiting for content")

		return nil
	}

	newConfig, err := LoadConfig(m.configPath)
	if err != nil {
		m.log.Errorf("ignoring config update, err: %s", err)

		return nil
	}

	if configsEqual(current, newConfig) {
		m.log.Info("previous and current parsed config are equal, nothing to do...")

		return nil
	}

	return newConfig
}

func configsEqual(existingConfig, newConfig *Config) bool {
	if !reflect.DeepEqual(existingConfig.Pipeline, newConfig.Pipeline) {
		return false
	}

	if !reflect.DeepEqual(existingConfig.Topology, newConfig.Topology) {
		return false
	}

	if len(existingConfig.Switches) != len(newConfig.Switches) {
		return false
	}

	// switch order does not matter, names are unique (validated at unmarshal time)
	newSwitches := make(map[string]Switch, len(newConfig.Switches))

	for _, sw := range newConfig.Switches {
		newSwitches[sw.Name] = sw
	}

	for _, existingSwitch := range existingConfig.Switches {
		newSwitch, ok := newSwitches[existingSwitch.Name]
		if !ok {
			return false
		}

		if !reflect.DeepEqual(existingSwitch, newSwitch) {
			return false
		}
	}

	return true
}
