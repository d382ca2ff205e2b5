package operator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/steveyegge/spectre/internal/value"
)

// Wire format, tag-discriminated:
//
//	operator:   {"op": "scan" | "filter" | "project" | "limit" | "join", ...}
//	predicate:  {"type": "prefix" | "eq" | "neq" | "gt" | "gte" | "lt" | "lte" | "and" | "or", ...}
//	projection: "all" | {"field": {"name": ...}} | {"subquery": {"alias": ..., "plan": ...}}
//
// Field paths encode as dotted strings and decode from either a dotted
// string or an array of segments.

type opEnvelope struct {
	Op string `json:"op"`

	// scan
	Table string `json:"table,omitempty"`

	// filter / project / limit
	Input     json.RawMessage `json:"input,omitempty"`
	Predicate json.RawMessage `json:"predicate,omitempty"`

	// project
	Projections []json.RawMessage `json:"projections,omitempty"`

	// limit
	Limit   *int              `json:"limit,omitempty"`
	OrderBy []orderSpecJSON   `json:"order_by,omitempty"`

	// join
	Left  json.RawMessage `json:"left,omitempty"`
	Right json.RawMessage `json:"right,omitempty"`
	On    *joinCondJSON   `json:"on,omitempty"`
}

type orderSpecJSON struct {
	Field     pathJSON `json:"field"`
	Direction string   `json:"direction"`
}

type joinCondJSON struct {
	LeftField  pathJSON `json:"left_field"`
	RightField pathJSON `json:"right_field"`
}

// pathJSON bridges value.Path to the wire: marshals dotted, unmarshals
// from dotted string or segment array.
type pathJSON struct {
	path value.Path
}

func (p pathJSON) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.path.String())
}

func (p *pathJSON) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.path = value.ParsePath(s)
		return nil
	}
	var segs []string
	if err := json.Unmarshal(data, &segs); err != nil {
		return fmt.Errorf("field path must be a dotted string or segment array")
	}
	p.path = value.Path(segs)
	return nil
}

// EncodeOperator serializes an operator tree.
func EncodeOperator(op Operator) ([]byte, error) {
	raw, err := encodeOperator(op)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func encodeOperator(op Operator) (json.RawMessage, error) {
	switch n := op.(type) {
	case *Scan:
		return json.Marshal(opEnvelope{Op: "scan", Table: n.Table})
	case *Filter:
		input, err := encodeOperator(n.Input)
		if err != nil {
			return nil, err
		}
		pred, err := encodePredicate(n.Predicate)
		if err != nil {
			return nil, err
		}
		return json.Marshal(opEnvelope{Op: "filter", Input: input, Predicate: pred})
	case *Project:
		input, err := encodeOperator(n.Input)
		if err != nil {
			return nil, err
		}
		projections := make([]json.RawMessage, len(n.Projections))
		for i, proj := range n.Projections {
			p, err := encodeProjection(proj)
			if err != nil {
				return nil, err
			}
			projections[i] = p
		}
		return json.Marshal(opEnvelope{Op: "project", Input: input, Projections: projections})
	case *Limit:
		input, err := encodeOperator(n.Input)
		if err != nil {
			return nil, err
		}
		limit := n.Limit
		env := opEnvelope{Op: "limit", Input: input, Limit: &limit}
		for _, o := range n.OrderBy {
			env.OrderBy = append(env.OrderBy, orderSpecJSON{Field: pathJSON{o.Field}, Direction: o.Direction})
		}
		return json.Marshal(env)
	case *Join:
		left, err := encodeOperator(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := encodeOperator(n.Right)
		if err != nil {
			return nil, err
		}
		on := joinCondJSON{LeftField: pathJSON{n.On.LeftField}, RightField: pathJSON{n.On.RightField}}
		return json.Marshal(opEnvelope{Op: "join", Left: left, Right: right, On: &on})
	default:
		return nil, fmt.Errorf("unknown operator %T", op)
	}
}

// DecodeOperator parses an operator tree from its wire form.
func DecodeOperator(data []byte) (Operator, error) {
	var env opEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode operator: %w", err)
	}
	switch strings.ToLower(env.Op) {
	case "scan":
		if env.Table == "" {
			return nil, fmt.Errorf("scan: missing table")
		}
		return &Scan{Table: env.Table}, nil
	case "filter":
		if env.Input == nil || env.Predicate == nil {
			return nil, fmt.Errorf("filter: missing input or predicate")
		}
		input, err := DecodeOperator(env.Input)
		if err != nil {
			return nil, err
		}
		pred, err := DecodePredicate(env.Predicate)
		if err != nil {
			return nil, err
		}
		return &Filter{Input: input, Predicate: pred}, nil
	case "project":
		if env.Input == nil {
			return nil, fmt.Errorf("project: missing input")
		}
		input, err := DecodeOperator(env.Input)
		if err != nil {
			return nil, err
		}
		projections := make([]Projection, 0, len(env.Projections))
		for _, raw := range env.Projections {
			proj, err := decodeProjection(raw)
			if err != nil {
				return nil, err
			}
			projections = append(projections, proj)
		}
		return &Project{Input: input, Projections: projections}, nil
	case "limit":
		if env.Input == nil || env.Limit == nil {
			return nil, fmt.Errorf("limit: missing input or limit")
		}
		if *env.Limit < 0 {
			return nil, fmt.Errorf("limit: negative limit %d", *env.Limit)
		}
		input, err := DecodeOperator(env.Input)
		if err != nil {
			return nil, err
		}
		node := &Limit{Input: input, Limit: *env.Limit}
		for _, o := range env.OrderBy {
			node.OrderBy = append(node.OrderBy, OrderSpec{Field: o.Field.path, Direction: o.Direction})
		}
		return node, nil
	case "join":
		if env.Left == nil || env.Right == nil || env.On == nil {
			return nil, fmt.Errorf("join: missing left, right or on")
		}
		left, err := DecodeOperator(env.Left)
		if err != nil {
			return nil, err
		}
		right, err := DecodeOperator(env.Right)
		if err != nil {
			return nil, err
		}
		return &Join{
			Left:  left,
			Right: right,
			On: JoinCondition{
				LeftField:  env.On.LeftField.path,
				RightField: env.On.RightField.path,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown operator tag %q", env.Op)
	}
}

type predEnvelope struct {
	Type string `json:"type"`

	Field  *pathJSON        `json:"field,omitempty"`
	Prefix string           `json:"prefix,omitempty"`
	Value  *value.Value     `json:"value,omitempty"`
	Preds  []json.RawMessage `json:"predicates,omitempty"`
}

var cmpByName = map[string]CmpOp{
	"eq":  CmpEq,
	"neq": CmpNeq,
	"gt":  CmpGt,
	"gte": CmpGte,
	"lt":  CmpLt,
	"lte": CmpLte,
}

func encodePredicate(p Predicate) (json.RawMessage, error) {
	switch n := p.(type) {
	case *Prefix:
		field := pathJSON{n.Field}
		return json.Marshal(predEnvelope{Type: "prefix", Field: &field, Prefix: n.Prefix})
	case *Compare:
		field := pathJSON{n.Field}
		val := n.Value
		return json.Marshal(predEnvelope{Type: n.Op.String(), Field: &field, Value: &val})
	case *And, *Or:
		var children []Predicate
		tag := "and"
		if and, ok := n.(*And); ok {
			children = and.Predicates
		} else {
			tag = "or"
			children = n.(*Or).Predicates
		}
		raws := make([]json.RawMessage, len(children))
		for i, child := range children {
			raw, err := encodePredicate(child)
			if err != nil {
				return nil, err
			}
			raws[i] = raw
		}
		return json.Marshal(predEnvelope{Type: tag, Preds: raws})
	default:
		return nil, fmt.Errorf("unknown predicate %T", p)
	}
}

// DecodePredicate parses a predicate from its wire form.
func DecodePredicate(data []byte) (Predicate, error) {
	var env predEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode predicate: %w", err)
	}
	tag := strings.ToLower(env.Type)
	switch tag {
	case "prefix":
		if env.Field == nil {
			return nil, fmt.Errorf("prefix: missing field")
		}
		return &Prefix{Field: env.Field.path, Prefix: env.Prefix}, nil
	case "and", "or":
		children := make([]Predicate, 0, len(env.Preds))
		for _, raw := range env.Preds {
			child, err := DecodePredicate(raw)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if tag == "and" {
			return &And{Predicates: children}, nil
		}
		return &Or{Predicates: children}, nil
	default:
		op, ok := cmpByName[tag]
		if !ok {
			return nil, fmt.Errorf("unknown predicate tag %q", env.Type)
		}
		if env.Field == nil {
			return nil, fmt.Errorf("%s: missing field", tag)
		}
		val := value.Null
		if env.Value != nil {
			val = *env.Value
		}
		return &Compare{Op: op, Field: env.Field.path, Value: val}, nil
	}
}

func encodeProjection(p Projection) (json.RawMessage, error) {
	switch n := p.(type) {
	case *All:
		return json.Marshal("all")
	case *Field:
		return json.Marshal(map[string]any{"field": map[string]string{"name": n.Name}})
	case *Subquery:
		plan, err := encodeOperator(n.Plan)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"subquery": map[string]any{
			"alias": n.Alias,
			"plan":  json.RawMessage(plan),
		}})
	default:
		return nil, fmt.Errorf("unknown projection %T", p)
	}
}

func decodeProjection(data []byte) (Projection, error) {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		if strings.ToLower(tag) != "all" {
			return nil, fmt.Errorf("unknown projection tag %q", tag)
		}
		return &All{}, nil
	}

	var env struct {
		Field *struct {
			Name string `json:"name"`
		} `json:"field"`
		Subquery *struct {
			Alias string          `json:"alias"`
			Plan  json.RawMessage `json:"plan"`
		} `json:"subquery"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode projection: %w", err)
	}
	switch {
	case env.Field != nil:
		return &Field{Name: env.Field.Name}, nil
	case env.Subquery != nil:
		plan, err := DecodeOperator(env.Subquery.Plan)
		if err != nil {
			return nil, err
		}
		return &Subquery{Alias: env.Subquery.Alias, Plan: plan}, nil
	default:
		return nil, fmt.Errorf("projection must be \"all\", a field, or a subquery")
	}
}

// MarshalJSON encodes the plan as {"id": ..., "root": {...}}.
func (p QueryPlan) MarshalJSON() ([]byte, error) {
	root, err := encodeOperator(p.Root)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		ID   string          `json:"id"`
		Root json.RawMessage `json:"root"`
	}{ID: p.ID, Root: root})
}

// UnmarshalJSON decodes a plan, validating the operator tree.
func (p *QueryPlan) UnmarshalJSON(data []byte) error {
	var env struct {
		ID   string          `json:"id"`
		Root json.RawMessage `json:"root"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if env.Root == nil {
		return fmt.Errorf("query plan %q: missing root operator", env.ID)
	}
	root, err := DecodeOperator(env.Root)
	if err != nil {
		return fmt.Errorf("query plan %q: %w", env.ID, err)
	}
	p.ID = env.ID
	p.Root = root
	return nil
}
