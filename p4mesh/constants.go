package p4mesh

import "time"

const (
	// Version is the version of p4mesh, set w/ build flags in ci; only useful/relevant for cli.
	Version = "0.0.0"
)

const (
	// DefaultP4InfoPath is the default location of the compiled P4Runtime pipeline description.
	DefaultP4InfoPath = "build/data_plane.p4info"

	// DefaultBmv2JSONPath is the default location of the compiled BMv2 switch description.
	DefaultBmv2JSONPath = "build/data_plane.json"

	// DefaultConfigPath is the default p4mesh configuration file; it is only read if it exists.
	DefaultConfigPath = "p4mesh.yaml"

	// DefaultControl is the name of the ingress control block of the data plane program, all table
	// and action names are qualified with it.
	DefaultControl = "cis553Ingress"

	// DefaultElectionID is the election id used for mastership arbitration when a switch does not
	// set one.
	DefaultElectionID = 1

	// DefaultMaxMessageSize is the default max grpc message size, pipeline pushes carry the whole
	// bmv2 json so this needs to be comfortably bigger than grpcs 4MB default.
	DefaultMaxMessageSize = 64 * 1024 * 1024

	// LPMHostPrefixLen is the prefix length used for every lpm rule -- all routes are host routes.
	LPMHostPrefixLen = 32
)

// Table names, relative to the ingress control.
const (
	TableHandleEthernet = "tiHandleEthernet"
	TableIPv4LPM        = "tiIpv4Lpm"
	TableARPLookup      = "tiArpLookup"
	TableARPResponse    = "tiArpResponse"
)

// Action names, relative to the ingress control.
const (
	ActionForMe       = "aiForMe"
	ActionForward     = "aiForward"
	ActionARPResponse = "aiArpResponse"
)

// Match field names.
const (
	FieldEthernetDstAddr = "hdr.ethernet.dstAddr"
	FieldIngressPort     = "standard_metadata.ingress_port"
	FieldIPv4DstAddr     = "hdr.ipv4.dstAddr"
	FieldARPTPA          = "hdr.arp.tpa"
	FieldARPOper         = "hdr.arp.oper"
)

// Action parameter names.
const (
	ParamSrcMAC     = "src_mac"
	ParamDstMAC     = "dst_mac"
	ParamEgressPort = "egress_port"
)

const (
	arbitrationTimeout = 10 * time.Second
	shutdownTimeout    = 5 * time.Second
	metricsReadTimeout = 5 * time.Second
)
