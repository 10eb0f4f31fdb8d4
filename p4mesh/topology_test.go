package p4mesh

import (
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultTopology(t *testing.T) {
	topo := DefaultTopology()

	require.Equal(t, []int{1, 2, 3}, topo.AllHosts())
	require.Equal(t, []int{1, 2, 3}, topo.RouterIDs())

	for _, routerID := range topo.RouterIDs() {
		r, err := topo.Router(routerID)
		require.NoError(t, err)
		require.Len(t, r.Links, 3)

		hostLink, ok := r.HostLink()
		require.True(t, ok)
		require.Equal(t, uint32(1), hostLink.Local.Port)
		require.Equal(t, routerID, hostLink.RemoteID)

		for _, peer := range topo.RouterIDs() {
			if peer == routerID {
				continue
			}

			_, ok = r.PeerLink(peer)
			require.True(t, ok, "router %d has no link to %d", routerID, peer)
		}
	}
}

func TestTopologyRouterOne(t *testing.T) {
	topo := DefaultTopology()

	links, err := topo.EndpointsFor(1)
	require.NoError(t, err)
	require.Len(t, links, 3)

	require.Equal(t, "r1-eth1", links[0].Local.Name)
	require.Equal(t, net.HardwareAddr{0, 0, 0, 1, 1, 0}, links[0].Local.MAC)
	require.Equal(t, netip.MustParseAddr("10.0.1.100"), links[0].Local.IP)
	require.Equal(t, NodeKindHost, links[0].RemoteKind)
	require.Equal(t, net.HardwareAddr{0, 0, 0, 0, 1, 1}, links[0].Remote.MAC)

	// r1 port 2 faces r2 port 2
	require.Equal(t, NodeKindRouter, links[1].RemoteKind)
	require.Equal(t, 2, links[1].RemoteID)
	require.Equal(t, net.HardwareAddr{0, 0, 0, 2, 2, 0}, links[1].Remote.MAC)
	require.Equal(t, uint32(2), links[1].Remote.Port)

	// r1 port 3 faces r3 port 2
	require.Equal(t, 3, links[2].RemoteID)
	require.Equal(t, net.HardwareAddr{0, 0, 0, 3, 2, 0}, links[2].Remote.MAC)

	r, err := topo.Router(1)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("10.0.1.100"), r.GatewayIP())

	mac, ip, err := topo.HostAddress(2)
	require.NoError(t, err)
	require.Equal(t, net.HardwareAddr{0, 0, 0, 0, 2, 2}, mac)
	require.Equal(t, netip.MustParseAddr("10.0.2.2"), ip)
}

func TestTopologyUnknownIDs(t *testing.T) {
	topo := DefaultTopology()

	_, err := topo.Router(7)
	require.ErrorIs(t, err, ErrUnknownRouter)

	_, err = topo.EndpointsFor(0)
	require.ErrorIs(t, err, ErrUnknownRouter)

	_, err = topo.Host(4)
	require.ErrorIs(t, err, ErrUnknownHost)

	_, _, err = topo.HostAddress(-1)
	require.ErrorIs(t, err, ErrUnknownHost)
}

func TestTopologyEndpointsForIsACopy(t *testing.T) {
	topo := DefaultTopology()

	links, err := topo.EndpointsFor(1)
	require.NoError(t, err)

	links[0].Local.Port = 42

	again, err := topo.EndpointsFor(1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), again[0].Local.Port)
}

func TestBuildTopologyInvalid(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *TopologyConfig)
		err    error
	}{
		{
			name: "missing-mesh-link",
			mutate: func(c *TopologyConfig) {
				// drop r2<->r3 in both directions
				c.Routers[1].Ports = c.Routers[1].Ports[:2]
				c.Routers[2].Ports = c.Routers[2].Ports[:2]
			},
			err: ErrUnreachableHost,
		},
		{
			name: "port-to-unknown-router",
			mutate: func(c *TopologyConfig) {
				c.Routers[0].Ports[2].Router = 9
			},
			err: ErrUnknownRouter,
		},
		{
			name: "port-to-unknown-host",
			mutate: func(c *TopologyConfig) {
				c.Routers[0].Ports[0].Host = 9
			},
			err: ErrUnknownHost,
		},
		{
			name: "host-port-without-ip",
			mutate: func(c *TopologyConfig) {
				c.Routers[0].Ports[0].IP = netip.Addr{}
			},
			err: ErrValidation,
		},
		{
			name: "host-port-with-ipv6",
			mutate: func(c *TopologyConfig) {
				c.Routers[0].Ports[0].IP = netip.MustParseAddr("fe80::1")
			},
			err: ErrValidation,
		},
		{
			name: "duplicate-port",
			mutate: func(c *TopologyConfig) {
				c.Routers[0].Ports[2].Port = 2
			},
			err: ErrValidation,
		},
		{
			name: "port-with-host-and-router",
			mutate: func(c *TopologyConfig) {
				c.Routers[0].Ports[1].Host = 1
			},
			err: ErrValidation,
		},
		{
			name: "invalid-mac",
			mutate: func(c *TopologyConfig) {
				c.Hosts[0].MAC = "not-a-mac"
			},
			err: ErrValidation,
		},
		{
			name: "duplicate-router-id",
			mutate: func(c *TopologyConfig) {
				c.Routers[2].ID = 2
			},
			err: ErrValidation,
		},
		{
			name: "orphan-host",
			mutate: func(c *TopologyConfig) {
				c.Hosts = append(c.Hosts, HostConfig{
					ID:   4,
					Name: "h4",
					MAC:  "00:00:00:00:04:04",
					IP:   netip.MustParseAddr("10.0.4.4"),
				})
			},
			err: ErrValidation,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultTopologyConfig()

			tc.mutate(&c)

			_, err := BuildTopology(c)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestLoadTopology(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yaml")

	err := os.WriteFile(path, []byte(`
hosts:
  - {id: 1, name: a, mac: "02:00:00:00:00:01", ip: 192.168.1.1}
  - {id: 2, name: b, mac: "02:00:00:00:00:02", ip: 192.168.2.1}
routers:
  - id: 1
    name: ra
    ports:
      - {port: 5, mac: "02:00:00:00:01:05", router: 2}
      - {port: 4, mac: "02:00:00:00:01:04", ip: 192.168.1.254, host: 1}
  - id: 2
    name: rb
    ports:
      - {port: 1, mac: "02:00:00:00:02:01", ip: 192.168.2.254, host: 2}
      - {port: 2, mac: "02:00:00:00:02:02", router: 1}
`), 0o600)
	require.NoError(t, err)

	topo, err := LoadTopology(path)
	require.NoError(t, err)

	r, err := topo.Router(1)
	require.NoError(t, err)

	// links are ordered by port no matter the file order
	require.Equal(t, uint32(4), r.Links[0].Local.Port)
	require.Equal(t, uint32(5), r.Links[1].Local.Port)
	require.Equal(t, "ra-eth5", r.Links[1].Local.Name)
	require.Equal(t, "rb-eth2", r.Links[1].Remote.Name)
	require.Equal(t, netip.MustParseAddr("192.168.1.254"), r.GatewayIP())

	_, err = LoadTopology(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, ErrConfig)
}
