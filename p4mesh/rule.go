package p4mesh

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// MatchKind is the kind of table match a field uses.
type MatchKind int

const (
	// MatchExact is an exact match.
	MatchExact MatchKind = iota
	// MatchLPM is a longest prefix match.
	MatchLPM
)

// String returns the readable name of the match kind.
func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchLPM:
		return "lpm"
	default:
		return "unknown"
	}
}

// Value is a match or action param value: the minimal big endian bytes plus a readable form for
// logs. The table entry builder pads Bytes out to the field bitwidth.
type Value struct {
	Bytes []byte
	Repr  string
}

// String returns the readable form of the value.
func (v Value) String() string {
	return v.Repr
}

// MACValue returns a Value for a mac address.
func MACValue(mac net.HardwareAddr) Value {
	b := make([]byte, len(mac))
	copy(b, mac)

	return Value{Bytes: b, Repr: mac.String()}
}

// IPValue returns a Value for an ip address, four bytes for ipv4 (or ipv4 mapped ipv6) and the
// full address otherwise. An invalid address has no bytes.
func IPValue(ip netip.Addr) Value {
	ip = ip.Unmap()

	if ip.Is4() {
		b := ip.As4()

		return Value{Bytes: b[:], Repr: ip.String()}
	}

	return Value{Bytes: ip.AsSlice(), Repr: ip.String()}
}

// UintValue returns a Value for an unsigned integer, used for ports and opcodes.
func UintValue(n uint64) Value {
	b := make([]byte, 8) //nolint:gomnd
	binary.BigEndian.PutUint64(b, n)

	for len(b) > 1 && b[0] == 0 {
		b = b[1:]
	}

	return Value{Bytes: b, Repr: fmt.Sprintf("%d", n)}
}

// Match is a single match field of a rule. PrefixLen is only meaningful for MatchLPM.
type Match struct {
	Field     string
	Kind      MatchKind
	Value     Value
	PrefixLen int32
}

// String returns the readable form of the match.
func (m Match) String() string {
	if m.Kind == MatchLPM {
		return fmt.Sprintf("%s=%s/%d", m.Field, m.Value, m.PrefixLen)
	}

	return fmt.Sprintf("%s=%s", m.Field, m.Value)
}

// Param is a single named action parameter.
type Param struct {
	Name  string
	Value Value
}

// Rule is an abstract match-action table entry. Tables and actions are fully qualified names,
// matches and params are ordered so that compiled rule sets are stable.
type Rule struct {
	Table   string
	Matches []Match
	Action  string
	Params  []Param
}

// Key returns the table plus match key of the rule, two rules with the same key would collide on
// the switch.
func (r *Rule) Key() string {
	b := strings.Builder{}

	b.WriteString(r.Table)

	for _, m := range r.Matches {
		b.WriteString("|")
		b.WriteString(m.String())
	}

	return b.String()
}

// String returns the readable form of the rule, used in logs and errors.
func (r *Rule) String() string {
	matches := make([]string, len(r.Matches))
	for idx, m := range r.Matches {
		matches[idx] = m.String()
	}

	params := make([]string, len(r.Params))
	for idx, p := range r.Params {
		params[idx] = fmt.Sprintf("%s=%s", p.Name, p.Value)
	}

	return fmt.Sprintf(
		"%s[%s] -> %s(%s)",
		r.Table,
		strings.Join(matches, ", "),
		r.Action,
		strings.Join(params, ", "),
	)
}
