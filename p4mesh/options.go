package p4mesh

import (
	"fmt"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

// Option defines an option for the p4mesh Manager.
type Option func(m *manager) error

// WithConfigFile provides a config filepath to the manager. Unlike the default path, a config file
// set this way must exist.
func WithConfigFile(s string) Option {
	return func(m *manager) error {
		m.configPath = s
		m.configRequired = true

		return nil
	}
}

// WithConfig provides an already loaded configuration, no config file is read.
func WithConfig(c *Config) Option {
	return func(m *manager) error {
		if c == nil {
			return fmt.Errorf("%w: nil config", ErrConfig)
		}

		err := c.Validate()
		if err != nil {
			return err
		}

		m.config = c

		return nil
	}
}

// WithP4InfoFile sets the path of the p4info file pushed to the switches.
func WithP4InfoFile(s string) Option {
	return func(m *manager) error {
		m.p4InfoPath = s

		return nil
	}
}

// WithBmv2JSONFile sets the path of the bmv2 json device config pushed to the switches.
func WithBmv2JSONFile(s string) Option {
	return func(m *manager) error {
		m.bmv2JSONPath = s

		return nil
	}
}

// WithPipeline provides an already loaded pipeline, the p4info and bmv2 json paths are ignored.
func WithPipeline(p *Pipeline) Option {
	return func(m *manager) error {
		if p == nil || p.P4Info == nil {
			return fmt.Errorf("%w: pipeline without p4info", ErrConfig)
		}

		m.pipeline = p

		return nil
	}
}

// WithTopology overrides the topology, otherwise it comes from the config (or is the lab default).
func WithTopology(t *Topology) Option {
	return func(m *manager) error {
		if t == nil {
			return fmt.Errorf("%w: nil topology", ErrConfig)
		}

		err := t.Validate()
		if err != nil {
			return err
		}

		m.topology = t

		return nil
	}
}

// WithLiveReload instructs the manager to watch the config file for changes and "live reload" the
// switches, reinstalling everything from scratch.
func WithLiveReload(b bool) Option {
	return func(m *manager) error {
		m.liveReload = b

		return nil
	}
}

// WithSwitchSelector limits the workers to switches whose name matches the glob pattern.
func WithSwitchSelector(pattern string) Option {
	return func(m *manager) error {
		if pattern == "" {
			m.selector = nil

			return nil
		}

		g, err := glob.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: invalid switch selector %q, err: %w", ErrConfig, pattern, err)
		}

		m.selector = g

		return nil
	}
}

// WithLogger sets the logger of the manager and its workers.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(m *manager) error {
		if log != nil {
			m.log = log
		}

		return nil
	}
}

// WithMetrics sets the metrics the workers record to.
func WithMetrics(metrics *Metrics) Option {
	return func(m *manager) error {
		m.metrics = metrics

		return nil
	}
}

// WithDialer replaces the p4runtime grpc dialer.
func WithDialer(d Dialer) Option {
	return func(m *manager) error {
		if d == nil {
			return fmt.Errorf("%w: nil dialer", ErrConfig)
		}

		m.dialer = d

		return nil
	}
}
