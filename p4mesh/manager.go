package p4mesh

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gobwas/glob"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Manager is an interface representing the manager singleton's methods.
type Manager interface {
	// Run starts one worker per selected switch and blocks until every worker has exited. Worker
	// failures do not stop the other workers; they are returned together once all are done.
	Run(ctx context.Context) error
}

type manager struct {
	log *zap.SugaredLogger

	configPath     string
	configRequired bool
	config         *Config
	liveReload     bool

	p4InfoPath   string
	bmv2JSONPath string
	pipeline     *Pipeline
	builder      *Builder

	topology         *Topology
	topologyOverride bool

	selector glob.Glob
	dialer   Dialer
	metrics  *Metrics

	workersLock sync.Mutex
	workers     []*Worker
}

var managerInst *manager //nolint:gochecknoglobals

// GetManager returns the singleton implementation of Manager, options are only applied the first
// time it is called.
func GetManager(opts ...Option) (Manager, error) {
	if managerInst != nil {
		return managerInst, nil
	}

	m, err := newManager(opts...)
	if err != nil {
		return nil, err
	}

	managerInst = m

	return managerInst, nil
}

// NewManager returns a new, non singleton, Manager.
func NewManager(opts ...Option) (Manager, error) {
	return newManager(opts...)
}

func newManager(opts ...Option) (*manager, error) {
	m := &manager{
		log:          zap.NewNop().Sugar(),
		configPath:   DefaultConfigPath,
		p4InfoPath:   DefaultP4InfoPath,
		bmv2JSONPath: DefaultBmv2JSONPath,
	}

	for _, opt := range opts {
		err := opt(m)
		if err != nil {
			m.log.Errorf("failed applying manager config option, err: %s", err)

			return nil, err
		}
	}

	if m.dialer == nil {
		m.dialer = NewP4RuntimeDialer(m.log)
	}

	err := m.loadConfig()
	if err != nil {
		m.log.Errorf("failed loading config, err: %s", err)

		return nil, err
	}

	if m.pipeline == nil {
		m.pipeline, err = LoadPipeline(m.p4InfoPath, m.bmv2JSONPath)
		if err != nil {
			m.log.Errorf("failed loading pipeline, err: %s", err)

			return nil, err
		}
	}

	m.builder = NewBuilder(m.pipeline.P4Info)

	if m.topology != nil {
		m.topologyOverride = true
	} else {
		m.topology, err = m.config.BuildTopology()
		if err != nil {
			m.log.Errorf("failed building topology, err: %s", err)

			return nil, err
		}
	}

	return m, nil
}

// loadConfig reads the config file unless a config was provided directly. The default config
// path is optional, the built in lab config is used if it does not exist.
func (m *manager) loadConfig() error {
	if m.config != nil {
		if m.liveReload {
			return fmt.Errorf(
				"%w: live reload requires a config file, not an in memory config", ErrConfig,
			)
		}

		return nil
	}

	qualifiedConfigPath, err := filepath.Abs(m.configPath)
	if err != nil {
		return fmt.Errorf("%w: failed determining absolute path to config, err: %w", ErrConfig, err)
	}

	m.configPath = qualifiedConfigPath

	_, err = os.Stat(m.configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || m.configRequired || m.liveReload {
			return fmt.Errorf("%w: config file %q not usable, err: %w", ErrConfig, m.configPath, err)
		}

		m.log.Infof("config file %q does not exist, using built in lab config", m.configPath)

		m.config = DefaultConfig()

		return nil
	}

	m.config, err = LoadConfig(m.configPath)

	return err
}

// Run starts all workers in the configuration and runs until ctx is cancelled. Without live reload
// it also returns once every worker has exited on its own.
func (m *manager) Run(ctx context.Context) error {
	m.log.Info("manager run started, starting workers...")

	if !m.liveReload {
		return m.runWorkers(ctx, m.config, m.topology)
	}

	watchCtx, watchCancel := context.WithCancel(ctx)

	reloads, watchDone, err := m.watchConfig(watchCtx)
	if err != nil {
		watchCancel()

		m.log.Errorf("error setting up config watch: %s", err)

		return err
	}

	defer func() {
		watchCancel()
		<-watchDone
	}()

	var lastErr error

	cancel, done := m.startGeneration(ctx)

	for {
		select {
		case <-ctx.Done():
			if done == nil {
				return lastErr
			}

			cancel()

			return <-done
		case lastErr = <-done:
			// done is nil (never ready) until a new generation is started
			done = nil

			cancel()

			m.log.Errorf(
				"all workers exited before shutdown, waiting for a config change, err: %s", lastErr,
			)
		case newConfig := <-reloads:
			newTopology, topologyErr := m.reloadTopology(newConfig)
			if topologyErr != nil {
				m.log.Errorf("ignoring config update with invalid topology, err: %s", topologyErr)

				continue
			}

			m.log.Info("config has changes, restarting workers...")

			if done != nil {
				cancel()

				prevErr := <-done
				if prevErr != nil {
					m.log.Warnf("workers of the previous config exited with errors: %s", prevErr)
				}
			}

			m.config = newConfig
			m.topology = newTopology

			m.log.Info("restarting workers after config update...")

			cancel, done = m.startGeneration(ctx)
		}
	}
}

// startGeneration runs the workers of the current config in the background, the returned channel
// receives the aggregated result once they all exit.
func (m *manager) startGeneration(ctx context.Context) (context.CancelFunc, chan error) {
	generationCtx, generationCancel := context.WithCancel(ctx)

	done := make(chan error, 1)

	go func(c *Config, t *Topology) {
		done <- m.runWorkers(generationCtx, c, t)
	}(m.config, m.topology)

	return generationCancel, done
}

func (m *manager) reloadTopology(c *Config) (*Topology, error) {
	if m.topologyOverride {
		return m.topology, nil
	}

	return c.BuildTopology()
}

func (m *manager) selectSwitches(switches []Switch) []Switch {
	if m.selector == nil {
		return switches
	}

	selected := make([]Switch, 0, len(switches))

	for _, sw := range switches {
		if m.selector.Match(sw.Name) {
			selected = append(selected, sw)

			continue
		}

		m.log.Debugf("switch %q not selected, skipping", sw.Name)
	}

	return selected
}

// runWorkers runs one worker per selected switch and waits for all of them, the returned error
// aggregates every worker failure in switch order.
func (m *manager) runWorkers(ctx context.Context, c *Config, t *Topology) error {
	switches := m.selectSwitches(c.Switches)
	if len(switches) == 0 {
		return fmt.Errorf("%w: no switches selected to run", ErrValidation)
	}

	compiler := NewCompiler(t, c.Pipeline.Control)

	workers := make([]*Worker, len(switches))

	for idx, sw := range switches {
		workers[idx] = NewWorker(sw, m.pipeline, compiler, m.builder, m.dialer, m.log, m.metrics)
	}

	m.workersLock.Lock()
	m.workers = workers
	m.workersLock.Unlock()

	errs := make([]error, len(workers))

	wg := &sync.WaitGroup{}

	wg.Add(len(workers))

	for idx, w := range workers {
		go func() {
			defer wg.Done()

			sw := w.Switch()

			m.log.Debugf("begin worker run for switch %q", sw.Name)

			err := w.Run(ctx)
			if err != nil {
				m.log.Errorw(
					"worker failed",
					zap.String("switch", sw.Name),
					zap.Int("router", sw.RouterID),
					zap.Stringer("state", w.State()),
					zap.Error(err),
				)

				errs[idx] = fmt.Errorf("router %d (%s): %w", sw.RouterID, sw.Name, err)
			}
		}()
	}

	wg.Wait()

	return multierr.Combine(errs...)
}

// Workers returns the workers of the currently running (or last run) generation.
func (m *manager) Workers() []*Worker {
	m.workersLock.Lock()
	defer m.workersLock.Unlock()

	return append([]*Worker(nil), m.workers...)
}
