package p4mesh

import (
	"fmt"

	p4configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
)

// Builder encodes abstract rules into p4runtime table entries by resolving names against a p4info
// schema. It is read only after construction and safe to share between workers.
type Builder struct {
	tables  map[string]*p4configv1.Table
	actions map[string]*p4configv1.Action
}

// NewBuilder indexes the tables and actions of the given p4info by both name and alias.
func NewBuilder(p4Info *p4configv1.P4Info) *Builder {
	b := &Builder{
		tables:  map[string]*p4configv1.Table{},
		actions: map[string]*p4configv1.Action{},
	}

	for _, t := range p4Info.GetTables() {
		b.tables[t.GetPreamble().GetName()] = t

		if alias := t.GetPreamble().GetAlias(); alias != "" {
			b.tables[alias] = t
		}
	}

	for _, a := range p4Info.GetActions() {
		b.actions[a.GetPreamble().GetName()] = a

		if alias := a.GetPreamble().GetAlias(); alias != "" {
			b.actions[alias] = a
		}
	}

	return b
}

// Encode returns the p4runtime table entry for the rule. It fails with ErrEncoding if anything
// the rule references does not exist in the schema, or a value does not fit its field.
func (b *Builder) Encode(r *Rule) (*p4v1.TableEntry, error) {
	table, ok := b.tables[r.Table]
	if !ok {
		return nil, fmt.Errorf("%w: table %q not found in p4info", ErrEncoding, r.Table)
	}

	action, ok := b.actions[r.Action]
	if !ok {
		return nil, fmt.Errorf("%w: action %q not found in p4info", ErrEncoding, r.Action)
	}

	if !tableHasAction(table, action) {
		return nil, fmt.Errorf(
			"%w: action %q is not valid for table %q", ErrEncoding, r.Action, r.Table,
		)
	}

	entry := &p4v1.TableEntry{
		TableId: table.GetPreamble().GetId(),
		Match:   make([]*p4v1.FieldMatch, 0, len(r.Matches)),
	}

	for _, m := range r.Matches {
		fm, err := encodeMatch(table, m)
		if err != nil {
			return nil, err
		}

		entry.Match = append(entry.Match, fm)
	}

	a := &p4v1.Action{
		ActionId: action.GetPreamble().GetId(),
		Params:   make([]*p4v1.Action_Param, 0, len(r.Params)),
	}

	for _, p := range r.Params {
		ap, err := encodeParam(action, p)
		if err != nil {
			return nil, err
		}

		a.Params = append(a.Params, ap)
	}

	if len(a.Params) != len(action.GetParams()) {
		return nil, fmt.Errorf(
			"%w: action %q takes %d params, rule supplies %d",
			ErrEncoding, r.Action, len(action.GetParams()), len(a.Params),
		)
	}

	entry.Action = &p4v1.TableAction{
		Type: &p4v1.TableAction_Action{Action: a},
	}

	return entry, nil
}

func tableHasAction(table *p4configv1.Table, action *p4configv1.Action) bool {
	for _, ref := range table.GetActionRefs() {
		if ref.GetId() == action.GetPreamble().GetId() {
			return true
		}
	}

	return false
}

func encodeMatch(table *p4configv1.Table, m Match) (*p4v1.FieldMatch, error) {
	var field *p4configv1.MatchField

	for _, f := range table.GetMatchFields() {
		if f.GetName() == m.Field {
			field = f

			break
		}
	}

	if field == nil {
		return nil, fmt.Errorf(
			"%w: match field %q not found in table %q",
			ErrEncoding, m.Field, table.GetPreamble().GetName(),
		)
	}

	value, err := encodeValue(m.Value, field.GetBitwidth())
	if err != nil {
		return nil, fmt.Errorf("match field %q: %w", m.Field, err)
	}

	fm := &p4v1.FieldMatch{FieldId: field.GetId()}

	switch {
	case m.Kind == MatchExact && field.GetMatchType() == p4configv1.MatchField_EXACT:
		fm.FieldMatchType = &p4v1.FieldMatch_Exact_{
			Exact: &p4v1.FieldMatch_Exact{Value: value},
		}
	case m.Kind == MatchLPM && field.GetMatchType() == p4configv1.MatchField_LPM:
		if m.PrefixLen < 0 || m.PrefixLen > field.GetBitwidth() {
			return nil, fmt.Errorf(
				"%w: prefix length %d out of range for %d bit field %q",
				ErrEncoding, m.PrefixLen, field.GetBitwidth(), m.Field,
			)
		}

		fm.FieldMatchType = &p4v1.FieldMatch_Lpm{
			Lpm: &p4v1.FieldMatch_LPM{Value: value, PrefixLen: m.PrefixLen},
		}
	default:
		return nil, fmt.Errorf(
			"%w: field %q is %s in p4info, rule uses %s",
			ErrEncoding, m.Field, field.GetMatchType(), m.Kind,
		)
	}

	return fm, nil
}

func encodeParam(action *p4configv1.Action, p Param) (*p4v1.Action_Param, error) {
	for _, ap := range action.GetParams() {
		if ap.GetName() != p.Name {
			continue
		}

		value, err := encodeValue(p.Value, ap.GetBitwidth())
		if err != nil {
			return nil, fmt.Errorf("action param %q: %w", p.Name, err)
		}

		return &p4v1.Action_Param{ParamId: ap.GetId(), Value: value}, nil
	}

	return nil, fmt.Errorf(
		"%w: param %q not found for action %q",
		ErrEncoding, p.Name, action.GetPreamble().GetName(),
	)
}

// encodeValue left pads v to the byte width of the field, failing if v needs more bits than the
// field has.
func encodeValue(v Value, bitwidth int32) ([]byte, error) {
	width := int((bitwidth + 7) / 8) //nolint:gomnd

	raw := v.Bytes
	for len(raw) > 0 && raw[0] == 0 {
		raw = raw[1:]
	}

	if len(raw) > width || (len(raw) == width && bitwidth%8 != 0 && raw[0]>>(bitwidth%8) != 0) {
		return nil, fmt.Errorf(
			"%w: value %s does not fit in %d bits", ErrEncoding, v, bitwidth,
		)
	}

	out := make([]byte, width)
	copy(out[width-len(raw):], raw)

	return out, nil
}
