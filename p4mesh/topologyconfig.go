package p4mesh

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// TopologyConfig is the yaml representation of a Topology. Peer macs are not repeated: a router
// port that points at another router takes its remote mac from the peer's port pointing back.
type TopologyConfig struct {
	// Hosts is a listing of the end hosts.
	Hosts []HostConfig `yaml:"hosts"`
	// Routers is a listing of the p4 routers and their ports.
	Routers []RouterConfig `yaml:"routers"`
}

// HostConfig describes a single end host.
type HostConfig struct {
	ID   int        `yaml:"id"`
	Name string     `yaml:"name"`
	MAC  string     `yaml:"mac"`
	IP   netip.Addr `yaml:"ip"`
}

// RouterConfig describes a single router.
type RouterConfig struct {
	ID    int          `yaml:"id"`
	Name  string       `yaml:"name"`
	Ports []PortConfig `yaml:"ports"`
}

// PortConfig describes one router port. Exactly one of Host or Router must be set.
type PortConfig struct {
	// Port is the switch port number.
	Port uint32 `yaml:"port"`
	// MAC is the routers own mac on this port.
	MAC string `yaml:"mac"`
	// IP is the routers own ip on this port, required on the host facing port as it is the
	// address the host arps for.
	IP netip.Addr `yaml:"ip,omitempty"`
	// Host is the id of the host on the far side of the port.
	Host int `yaml:"host,omitempty"`
	// Router is the id of the router on the far side of the port.
	Router int `yaml:"router,omitempty"`
}

// DefaultTopologyConfig returns the three router, three host full mesh lab topology.
func DefaultTopologyConfig() TopologyConfig {
	return TopologyConfig{
		Hosts: []HostConfig{
			{ID: 1, Name: "h1", MAC: "00:00:00:00:01:01", IP: netip.MustParseAddr("10.0.1.1")},
			{ID: 2, Name: "h2", MAC: "00:00:00:00:02:02", IP: netip.MustParseAddr("10.0.2.2")},
			{ID: 3, Name: "h3", MAC: "00:00:00:00:03:03", IP: netip.MustParseAddr("10.0.3.3")},
		},
		Routers: []RouterConfig{
			{
				ID:   1,
				Name: "r1",
				Ports: []PortConfig{
					{
						Port: 1,
						MAC:  "00:00:00:01:01:00",
						IP:   netip.MustParseAddr("10.0.1.100"),
						Host: 1,
					},
					{Port: 2, MAC: "00:00:00:01:02:00", Router: 2},
					{Port: 3, MAC: "00:00:00:01:03:00", Router: 3},
				},
			},
			{
				ID:   2,
				Name: "r2",
				Ports: []PortConfig{
					{
						Port: 1,
						MAC:  "00:00:00:02:01:00",
						IP:   netip.MustParseAddr("10.0.2.100"),
						Host: 2,
					},
					{Port: 2, MAC: "00:00:00:02:02:00", Router: 1},
					{Port: 3, MAC: "00:00:00:02:03:00", Router: 3},
				},
			},
			{
				ID:   3,
				Name: "r3",
				Ports: []PortConfig{
					{
						Port: 1,
						MAC:  "00:00:00:03:01:00",
						IP:   netip.MustParseAddr("10.0.3.100"),
						Host: 3,
					},
					{Port: 2, MAC: "00:00:00:03:02:00", Router: 1},
					{Port: 3, MAC: "00:00:00:03:03:00", Router: 2},
				},
			},
		},
	}
}

// DefaultTopology returns the built and validated default topology.
func DefaultTopology() *Topology {
	t, err := BuildTopology(DefaultTopologyConfig())
	if err != nil {
		panic(fmt.Sprintf("default topology is invalid, this is a bug, err: %s", err))
	}

	return t
}

// LoadTopology reads a TopologyConfig from the yaml file at path and builds it.
func LoadTopology(path string) (*Topology, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed reading topology file %q, err: %w", ErrConfig, path, err)
	}

	var c TopologyConfig

	err = yaml.Unmarshal(b, &c)
	if err != nil {
		return nil, fmt.Errorf("%w: failed unmarshaling topology file %q, err: %w", ErrConfig, path, err)
	}

	return BuildTopology(c)
}

// BuildTopology resolves a TopologyConfig into a Topology and validates it.
func BuildTopology(c TopologyConfig) (*Topology, error) {
	t := &Topology{
		Hosts:       make([]Host, 0, len(c.Hosts)),
		Routers:     make([]Router, 0, len(c.Routers)),
		hostsByID:   make(map[int]int, len(c.Hosts)),
		routersByID: make(map[int]int, len(c.Routers)),
	}

	routerConfigs := make(map[int]RouterConfig, len(c.Routers))

	for _, rc := range c.Routers {
		if rc.ID <= 0 {
			return nil, fmt.Errorf("%w: router ids must be positive, got %d", ErrValidation, rc.ID)
		}

		if _, dup := routerConfigs[rc.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate router id %d", ErrValidation, rc.ID)
		}

		routerConfigs[rc.ID] = rc
	}

	hostRouters := make(map[int]int, len(c.Hosts))

	for _, rc := range c.Routers {
		for _, pc := range rc.Ports {
			if pc.Host != 0 {
				hostRouters[pc.Host] = rc.ID
			}
		}
	}

	for _, hc := range c.Hosts {
		if hc.ID <= 0 {
			return nil, fmt.Errorf("%w: host ids must be positive, got %d", ErrValidation, hc.ID)
		}

		if _, dup := t.hostsByID[hc.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate host id %d", ErrValidation, hc.ID)
		}

		mac, err := net.ParseMAC(hc.MAC)
		if err != nil {
			return nil, fmt.Errorf("%w: host %d has invalid mac %q, err: %w", ErrValidation, hc.ID, hc.MAC, err)
		}

		if !hc.IP.Is4() {
			return nil, fmt.Errorf("%w: host %d needs an ipv4 address, got %q", ErrValidation, hc.ID, hc.IP)
		}

		t.hostsByID[hc.ID] = len(t.Hosts)
		t.Hosts = append(t.Hosts, Host{
			ID:   hc.ID,
			Name: hc.Name,
			Endpoint: Endpoint{
				Name: hc.Name,
				MAC:  mac,
				IP:   hc.IP,
			},
			Router: hostRouters[hc.ID],
		})
	}

	for _, rc := range c.Routers {
		r, err := buildRouter(rc, routerConfigs, t)
		if err != nil {
			return nil, err
		}

		t.routersByID[r.ID] = len(t.Routers)
		t.Routers = append(t.Routers, r)
	}

	err := t.Validate()
	if err != nil {
		return nil, err
	}

	return t, nil
}

func buildRouter(rc RouterConfig, routerConfigs map[int]RouterConfig, t *Topology) (Router, error) {
	r := Router{
		ID:    rc.ID,
		Name:  rc.Name,
		Links: make([]Link, 0, len(rc.Ports)),
	}

	for _, pc := range rc.Ports {
		if (pc.Host == 0) == (pc.Router == 0) {
			return Router{}, fmt.Errorf(
				"%w: router %d port %d must point at exactly one host or router",
				ErrValidation, rc.ID, pc.Port,
			)
		}

		mac, err := net.ParseMAC(pc.MAC)
		if err != nil {
			return Router{}, fmt.Errorf(
				"%w: router %d port %d has invalid mac %q, err: %w",
				ErrValidation, rc.ID, pc.Port, pc.MAC, err,
			)
		}

		l := Link{
			Local: Endpoint{
				Name: fmt.Sprintf("%s-eth%d", rc.Name, pc.Port),
				MAC:  mac,
				IP:   pc.IP,
				Port: pc.Port,
			},
		}

		if pc.Host != 0 {
			h, err := t.Host(pc.Host)
			if err != nil {
				return Router{}, fmt.Errorf("router %d port %d: %w", rc.ID, pc.Port, err)
			}

			l.Remote = h.Endpoint
			l.RemoteKind = NodeKindHost
			l.RemoteID = h.ID
		} else {
			remote, err := peerEndpoint(rc, pc, routerConfigs)
			if err != nil {
				return Router{}, err
			}

			l.Remote = remote
			l.RemoteKind = NodeKindRouter
			l.RemoteID = pc.Router
		}

		r.Links = append(r.Links, l)
	}

	slices.SortFunc(r.Links, func(a, b Link) int {
		return int(a.Local.Port) - int(b.Local.Port)
	})

	return r, nil
}

// peerEndpoint finds the port on the peer router that points back at us and returns it as the
// remote endpoint of the link.
func peerEndpoint(
	rc RouterConfig,
	pc PortConfig,
	routerConfigs map[int]RouterConfig,
) (Endpoint, error) {
	peer, ok := routerConfigs[pc.Router]
	if !ok {
		return Endpoint{}, fmt.Errorf(
			"%w: router %d port %d points at router %d which does not exist",
			ErrUnknownRouter, rc.ID, pc.Port, pc.Router,
		)
	}

	for _, peerPort := range peer.Ports {
		if peerPort.Router != rc.ID {
			continue
		}

		mac, err := net.ParseMAC(peerPort.MAC)
		if err != nil {
			return Endpoint{}, fmt.Errorf(
				"%w: router %d port %d has invalid mac %q, err: %w",
				ErrValidation, peer.ID, peerPort.Port, peerPort.MAC, err,
			)
		}

		return Endpoint{
			Name: fmt.Sprintf("%s-eth%d", peer.Name, peerPort.Port),
			MAC:  mac,
			IP:   peerPort.IP,
			Port: peerPort.Port,
		}, nil
	}

	return Endpoint{}, fmt.Errorf(
		"%w: router %d port %d points at router %d, but router %d has no port pointing back",
		ErrValidation, rc.ID, pc.Port, pc.Router, pc.Router,
	)
}
