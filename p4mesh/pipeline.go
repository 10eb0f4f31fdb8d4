package p4mesh

import (
	"fmt"
	"os"
	"path/filepath"

	p4configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
)

// Pipeline is the forwarding pipeline artifact pushed to every switch: the p4info schema plus the
// target specific device config (the bmv2 json).
type Pipeline struct {
	P4Info       *p4configv1.P4Info
	DeviceConfig []byte

	P4InfoPath       string
	DeviceConfigPath string
}

// LoadPipeline reads the p4info file (text format, or binary if it has a .pb/.bin extension) and
// the bmv2 json file.
func LoadPipeline(p4InfoPath, deviceConfigPath string) (*Pipeline, error) {
	p4InfoBytes, err := os.ReadFile(p4InfoPath)
	if err != nil {
		return nil, fmt.Errorf(
			"%w: failed reading p4info file %q, err: %w", ErrConfig, p4InfoPath, err,
		)
	}

	p4Info := &p4configv1.P4Info{}

	switch filepath.Ext(p4InfoPath) {
	case ".pb", ".bin":
		err = proto.Unmarshal(p4InfoBytes, p4Info)
	default:
		err = prototext.Unmarshal(p4InfoBytes, p4Info)
	}

	if err != nil {
		return nil, fmt.Errorf(
			"%w: failed parsing p4info file %q, err: %w", ErrConfig, p4InfoPath, err,
		)
	}

	deviceConfig, err := os.ReadFile(deviceConfigPath)
	if err != nil {
		return nil, fmt.Errorf(
			"%w: failed reading device config file %q, err: %w", ErrConfig, deviceConfigPath, err,
		)
	}

	return &Pipeline{
		P4Info:           p4Info,
		DeviceConfig:     deviceConfig,
		P4InfoPath:       p4InfoPath,
		DeviceConfigPath: deviceConfigPath,
	}, nil
}
