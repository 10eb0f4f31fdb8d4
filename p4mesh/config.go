package p4mesh

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Config holds the yaml configuration used for p4mesh.
type Config config

type config struct {
	// Pipeline holds naming details of the data plane program.
	Pipeline PipelineConfig `yaml:"pipeline"`
	// Switches is a listing of switches to run a control plane worker for, one each.
	Switches []Switch `yaml:"switches"`
	// Topology is the static network description, if omitted the built in lab topology is used.
	Topology *TopologyConfig `yaml:"topology,omitempty"`
}

// PipelineConfig holds naming details of the data plane program.
type PipelineConfig struct {
	// Control is the name of the ingress control block, table and action names are qualified
	// with it.
	Control string `yaml:"control"`
}

// Switch holds the connection parameters for one p4runtime switch and the router it acts as.
type Switch struct {
	// Name is a friendly name for the switch, used in logs and metrics.
	Name string `yaml:"name"`
	// Address is the host:port of the switch p4runtime grpc server.
	Address string `yaml:"address"`
	// DeviceID is the p4runtime device id.
	DeviceID uint64 `yaml:"device_id"`
	// ElectionID is the mastership election id, the highest id connected to a switch is master.
	ElectionID uint64 `yaml:"election_id"`
	// RouterID is the topology router this switch is programmed as.
	RouterID int `yaml:"router_id"`
	// MaxMessageSize is the max grpc message size for the session, e.g. "64MB".
	MaxMessageSize datasize.ByteSize `yaml:"max_message_size"`
}

// DefaultConfig returns the lab configuration: three bmv2 routers on localhost.
func DefaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Control: DefaultControl,
		},
		Switches: []Switch{
			{
				Name:           "r1",
				Address:        "127.0.0.1:50051",
				DeviceID:       0,
				ElectionID:     DefaultElectionID,
				RouterID:       1,
				MaxMessageSize: DefaultMaxMessageSize * datasize.B,
			},
			{
				Name:           "r2",
				Address:        "127.0.0.1:50052",
				DeviceID:       1,
				ElectionID:     DefaultElectionID,
				RouterID:       2,
				MaxMessageSize: DefaultMaxMessageSize * datasize.B,
			},
			{
				Name:           "r3",
				Address:        "127.0.0.1:50053",
				DeviceID:       2,
				ElectionID:     DefaultElectionID,
				RouterID:       3,
				MaxMessageSize: DefaultMaxMessageSize * datasize.B,
			},
		},
	}
}

// LoadConfig loads the configuration from the given path on top of the defaults. Note that a
// switches list in the file replaces the default list rather than merging with it.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed reading config file at path %q, err: %w", ErrConfig, path, err)
	}

	c := DefaultConfig()

	err = yaml.Unmarshal(b, c)
	if err != nil {
		return nil, fmt.Errorf("%w: failed unmarshaling config file, err: %w", ErrConfig, err)
	}

	return c, nil
}

// UnmarshalYAML serves as a proxy for validation, decoding into the private config type so the
// decoder uses its default struct handling.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	err := value.Decode((*config)(c))
	if err != nil {
		return err
	}

	return c.Validate()
}

// Validate validates the configuration and fills in per switch defaults.
func (c *Config) Validate() error {
	if c.Pipeline.Control == "" {
		c.Pipeline.Control = DefaultControl
	}

	if len(c.Switches) == 0 {
		return fmt.Errorf("%w: no switches configured", ErrValidation)
	}

	names := make(map[string]struct{}, len(c.Switches))
	routers := make(map[int]string, len(c.Switches))

	for idx := range c.Switches {
		sw := &c.Switches[idx]

		if sw.Name == "" {
			sw.Name = fmt.Sprintf("r%d", sw.RouterID)
		}

		if sw.Address == "" {
			return fmt.Errorf("%w: switch %q has no address", ErrValidation, sw.Name)
		}

		if _, dup := names[sw.Name]; dup {
			return fmt.Errorf("%w: duplicate switch name %q", ErrValidation, sw.Name)
		}

		names[sw.Name] = struct{}{}

		if other, dup := routers[sw.RouterID]; dup {
			return fmt.Errorf(
				"%w: switches %q and %q are both configured as router %d",
				ErrValidation, other, sw.Name, sw.RouterID,
			)
		}

		routers[sw.RouterID] = sw.Name

		if sw.ElectionID == 0 {
			sw.ElectionID = DefaultElectionID
		}

		if sw.MaxMessageSize == 0 {
			sw.MaxMessageSize = DefaultMaxMessageSize * datasize.B
		}
	}

	return nil
}

// BuildTopology returns the configured topology, or the default one if none was configured.
func (c *Config) BuildTopology() (*Topology, error) {
	if c.Topology == nil {
		return DefaultTopology(), nil
	}

	return BuildTopology(*c.Topology)
}
