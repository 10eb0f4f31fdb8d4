package p4mesh

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/gopacket/gopacket/layers"
)

// Compiler turns the static topology into the table entries a given router needs.
type Compiler struct {
	topology *Topology
	control  string
}

// NewCompiler returns a Compiler for the topology, qualifying table and action names with the
// given ingress control name.
func NewCompiler(topology *Topology, control string) *Compiler {
	if control == "" {
		control = DefaultControl
	}

	return &Compiler{
		topology: topology,
		control:  control,
	}
}

func (c *Compiler) qualify(name string) string {
	return c.control + "." + name
}

// Compile returns the complete, ordered rule set for the router: ethernet admission for every
// port (unicast and broadcast), the arp lookup route toward the attached host, a host route toward
// every remote host via the peer it hangs off, and the arp response for the routers gateway ip.
// Compiling the same router twice yields identical output.
func (c *Compiler) Compile(routerID int) ([]Rule, error) {
	r, err := c.topology.Router(routerID)
	if err != nil {
		return nil, err
	}

	hostLink, ok := r.HostLink()
	if !ok {
		return nil, fmt.Errorf("%w: router %d has no attached host", ErrValidation, routerID)
	}

	if !hostLink.Local.IP.Is4() || !hostLink.Remote.IP.Is4() {
		return nil, fmt.Errorf(
			"%w: router %d host link needs ipv4 addresses, got %q and %q",
			ErrValidation, routerID, hostLink.Local.IP, hostLink.Remote.IP,
		)
	}

	rules := make([]Rule, 0, 2*len(r.Links)+len(c.topology.Hosts)+1) //nolint:gomnd

	for _, l := range r.Links {
		rules = append(
			rules,
			c.ethernetRule(l.Local.MAC, l.Local.Port),
			c.ethernetRule(layers.EthernetBroadcast, l.Local.Port),
		)
	}

	rules = append(
		rules,
		c.forwardRule(TableARPLookup, hostLink.Remote.IP, hostLink),
	)

	for _, hostID := range c.topology.AllHosts() {
		if hostID == hostLink.RemoteID {
			continue
		}

		h, err := c.topology.Host(hostID)
		if err != nil {
			return nil, err
		}

		peerLink, ok := r.PeerLink(h.Router)
		if !ok {
			return nil, fmt.Errorf(
				"%w: router %d has no link toward router %d which host %d is attached to",
				ErrUnreachableHost, routerID, h.Router, hostID,
			)
		}

		if !h.Endpoint.IP.Is4() {
			return nil, fmt.Errorf(
				"%w: host %d needs an ipv4 address, got %q", ErrValidation, hostID, h.Endpoint.IP,
			)
		}

		rules = append(rules, c.forwardRule(TableIPv4LPM, h.Endpoint.IP, peerLink))
	}

	rules = append(rules, c.arpResponseRule(r.GatewayIP(), hostLink.Local.MAC))

	err = checkCollisions(routerID, rules)
	if err != nil {
		return nil, err
	}

	return rules, nil
}

func (c *Compiler) ethernetRule(dst net.HardwareAddr, port uint32) Rule {
	return Rule{
		Table: c.qualify(TableHandleEthernet),
		Matches: []Match{
			{Field: FieldEthernetDstAddr, Kind: MatchExact, Value: MACValue(dst)},
			{Field: FieldIngressPort, Kind: MatchExact, Value: UintValue(uint64(port))},
		},
		Action: c.qualify(ActionForMe),
	}
}

// forwardRule builds an aiForward host route out of the given link, rewriting the ethernet
// addresses to the link's two ends.
func (c *Compiler) forwardRule(table string, dst netip.Addr, via Link) Rule {
	return Rule{
		Table: c.qualify(table),
		Matches: []Match{
			{
				Field:     FieldIPv4DstAddr,
				Kind:      MatchLPM,
				Value:     IPValue(dst),
				PrefixLen: LPMHostPrefixLen,
			},
		},
		Action: c.qualify(ActionForward),
		Params: []Param{
			{Name: ParamSrcMAC, Value: MACValue(via.Local.MAC)},
			{Name: ParamDstMAC, Value: MACValue(via.Remote.MAC)},
			{Name: ParamEgressPort, Value: UintValue(uint64(via.Local.Port))},
		},
	}
}

func (c *Compiler) arpResponseRule(tpa netip.Addr, mac net.HardwareAddr) Rule {
	return Rule{
		Table: c.qualify(TableARPResponse),
		Matches: []Match{
			{Field: FieldARPTPA, Kind: MatchExact, Value: IPValue(tpa)},
			{Field: FieldARPOper, Kind: MatchExact, Value: UintValue(layers.ARPRequest)},
		},
		Action: c.qualify(ActionARPResponse),
		Params: []Param{
			{Name: ParamSrcMAC, Value: MACValue(mac)},
		},
	}
}

func checkCollisions(routerID int, rules []Rule) error {
	seen := make(map[string]string, len(rules))

	for idx := range rules {
		key := rules[idx].Key()

		if action, ok := seen[key]; ok && action != rules[idx].Action {
			return fmt.Errorf(
				"%w: router %d has conflicting rules for %s (%s vs %s)",
				ErrValidation, routerID, key, action, rules[idx].Action,
			)
		}

		seen[key] = rules[idx].Action
	}

	return nil
}
