package p4mesh

import (
	"fmt"
	"net"
	"net/netip"
	"slices"
)

// NodeKind is the kind of node on the far side of a link.
type NodeKind int

const (
	// NodeKindHost is an end host.
	NodeKindHost NodeKind = iota
	// NodeKindRouter is another p4 router.
	NodeKindRouter
)

// String returns the readable name of the node kind.
func (k NodeKind) String() string {
	switch k {
	case NodeKindHost:
		return "host"
	case NodeKindRouter:
		return "router"
	default:
		return "unknown"
	}
}

// Endpoint is one side of a link: a mac/ip pair and, for router ports, the local port number.
type Endpoint struct {
	Name string
	MAC  net.HardwareAddr
	IP   netip.Addr
	Port uint32
}

// Link is a directed adjacency from a local router port to a host or a peer router.
type Link struct {
	Local      Endpoint
	Remote     Endpoint
	RemoteKind NodeKind
	RemoteID   int
}

// Host is an end host attached to exactly one router.
type Host struct {
	ID       int
	Name     string
	Endpoint Endpoint
	Router   int
}

// Router is a p4 switch acting as a router, Links are ordered by local port.
type Router struct {
	ID    int
	Name  string
	Links []Link
}

// HostLink returns the link toward the router's directly attached host.
func (r *Router) HostLink() (Link, bool) {
	for _, l := range r.Links {
		if l.RemoteKind == NodeKindHost {
			return l, true
		}
	}

	return Link{}, false
}

// PeerLink returns the link toward the given peer router.
func (r *Router) PeerLink(routerID int) (Link, bool) {
	for _, l := range r.Links {
		if l.RemoteKind == NodeKindRouter && l.RemoteID == routerID {
			return l, true
		}
	}

	return Link{}, false
}

// GatewayIP is the router's own ip on its host facing side, what the attached host arps for.
func (r *Router) GatewayIP() netip.Addr {
	l, ok := r.HostLink()
	if !ok {
		return netip.Addr{}
	}

	return l.Local.IP
}

// Topology is the full static network description. It is read only once built.
type Topology struct {
	Hosts   []Host
	Routers []Router

	hostsByID   map[int]int
	routersByID map[int]int
}

// Router returns the router with the given id.
func (t *Topology) Router(routerID int) (*Router, error) {
	idx, ok := t.routersByID[routerID]
	if !ok {
		return nil, fmt.Errorf("%w: router id %d is not in the topology", ErrUnknownRouter, routerID)
	}

	return &t.Routers[idx], nil
}

// Host returns the host with the given id.
func (t *Topology) Host(hostID int) (*Host, error) {
	idx, ok := t.hostsByID[hostID]
	if !ok {
		return nil, fmt.Errorf("%w: host id %d is not in the topology", ErrUnknownHost, hostID)
	}

	return &t.Hosts[idx], nil
}

// EndpointsFor returns the links of the given router, ordered by local port.
func (t *Topology) EndpointsFor(routerID int) ([]Link, error) {
	r, err := t.Router(routerID)
	if err != nil {
		return nil, err
	}

	return slices.Clone(r.Links), nil
}

// HostAddress returns the mac and ip of the given host.
func (t *Topology) HostAddress(hostID int) (net.HardwareAddr, netip.Addr, error) {
	h, err := t.Host(hostID)
	if err != nil {
		return nil, netip.Addr{}, err
	}

	return h.Endpoint.MAC, h.Endpoint.IP, nil
}

// AllHosts returns every host id in ascending order.
func (t *Topology) AllHosts() []int {
	ids := make([]int, 0, len(t.Hosts))

	for idx := range t.Hosts {
		ids = append(ids, t.Hosts[idx].ID)
	}

	slices.Sort(ids)

	return ids
}

// RouterIDs returns every router id in ascending order.
func (t *Topology) RouterIDs() []int {
	ids := make([]int, 0, len(t.Routers))

	for idx := range t.Routers {
		ids = append(ids, t.Routers[idx].ID)
	}

	slices.Sort(ids)

	return ids
}

// Validate checks the invariants the rule compiler relies on: every router has exactly one
// attached host, every host hangs off exactly one router and every router has a direct link to
// every other router (we never compute paths, so that is the only way to reach remote hosts).
func (t *Topology) Validate() error {
	attached := make(map[int]int, len(t.Hosts))

	for idx := range t.Routers {
		r := &t.Routers[idx]

		var hostLinks int

		ports := make(map[uint32]struct{}, len(r.Links))

		for _, l := range r.Links {
			if _, dup := ports[l.Local.Port]; dup {
				return fmt.Errorf(
					"%w: router %d has more than one link on port %d",
					ErrValidation, r.ID, l.Local.Port,
				)
			}

			ports[l.Local.Port] = struct{}{}

			if l.RemoteKind != NodeKindHost {
				continue
			}

			hostLinks++

			if !l.Local.IP.Is4() {
				return fmt.Errorf(
					"%w: router %d host facing port %d needs an ipv4 address, got %q",
					ErrValidation, r.ID, l.Local.Port, l.Local.IP,
				)
			}

			if other, ok := attached[l.RemoteID]; ok {
				return fmt.Errorf(
					"%w: host %d is attached to both router %d and router %d",
					ErrValidation, l.RemoteID, other, r.ID,
				)
			}

			attached[l.RemoteID] = r.ID
		}

		if hostLinks != 1 {
			return fmt.Errorf(
				"%w: router %d has %d attached hosts, expected exactly one",
				ErrValidation, r.ID, hostLinks,
			)
		}

		for peerIdx := range t.Routers {
			peer := t.Routers[peerIdx].ID
			if peer == r.ID {
				continue
			}

			if _, ok := r.PeerLink(peer); !ok {
				return fmt.Errorf(
					"%w: router %d has no link to router %d",
					ErrUnreachableHost, r.ID, peer,
				)
			}
		}
	}

	for idx := range t.Hosts {
		h := &t.Hosts[idx]

		routerID, ok := attached[h.ID]
		if !ok {
			return fmt.Errorf("%w: host %d is not attached to any router", ErrValidation, h.ID)
		}

		if routerID != h.Router {
			return fmt.Errorf(
				"%w: host %d claims router %d but is attached to router %d",
				ErrValidation, h.ID, h.Router, routerID,
			)
		}
	}

	return nil
}
