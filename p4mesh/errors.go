package p4mesh

import (
	"errors"
)

// ErrUnknownRouter is returned when a router id has no topology data.
var ErrUnknownRouter = errors.New("errUnknownRouter")

// ErrUnknownHost is returned when a host id has no topology data.
var ErrUnknownHost = errors.New("errUnknownHost")

// ErrUnreachableHost is returned when a router has no direct peer link toward the router a host is
// attached to -- we never compute paths, so the topology must be a full mesh.
var ErrUnreachableHost = errors.New("errUnreachableHost")

// ErrConnection is a generic error for connectivity issues with a switch -- either failing to
// open the session or losing it after it was established.
var ErrConnection = errors.New("errConnection")

// ErrArbitration is returned when mastership arbitration fails or is not granted; a controller that
// is not master must never install state.
var ErrArbitration = errors.New("errArbitration")

// ErrPipelineConfig is returned when pushing the forwarding pipeline config fails.
var ErrPipelineConfig = errors.New("errPipelineConfig")

// ErrRuleInstall is returned when a single table entry write fails. Previously written entries are
// left in place.
var ErrRuleInstall = errors.New("errRuleInstall")

// ErrEncoding is returned when a rule references a table, field, action or param that the pipeline
// schema (p4info) does not have -- usually a build/config mismatch.
var ErrEncoding = errors.New("errEncoding")

// ErrConfig is a generic error for issues loading or parsing configuration/artifacts.
var ErrConfig = errors.New("errConfig")

// ErrValidation is a generic error for configuration or topology that parsed fine but does not
// make sense.
var ErrValidation = errors.New("errValidation")
