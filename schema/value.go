package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ValueType is the value type of an attribute, matching the handful of
// primitive types a datom's value slot can hold.
type ValueType int

const (
	ValueTypeRef ValueType = iota
	ValueTypeLong
	ValueTypeDouble
	ValueTypeString
	ValueTypeBoolean
	ValueTypeKeyword
	ValueTypeInstant
	ValueTypeUUID
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeRef:
		return "ref"
	case ValueTypeLong:
		return "long"
	case ValueTypeDouble:
		return "double"
	case ValueTypeString:
		return "string"
	case ValueTypeBoolean:
		return "boolean"
	case ValueTypeKeyword:
		return "keyword"
	case ValueTypeInstant:
		return "instant"
	case ValueTypeUUID:
		return "uuid"
	default:
		return "unknown"
	}
}

// Cardinality of an attribute: one value per entity, or many.
type Cardinality int

const (
	CardinalityOne Cardinality = iota
	CardinalityMany
)

// Value is a typed datom value. It is a closed tagged union over the
// handful of primitive value types a Schema's attributes may hold;
// unlike an interface{}, a zero Value unambiguously carries no data.
type Value struct {
	typ  ValueType
	ref  Entid
	long int64
	dbl  float64
	str  string
	bol  bool
	kw   Ident
	inst time.Time
	uid  uuid.UUID
}

func NewRef(e Entid) Value       { return Value{typ: ValueTypeRef, ref: e} }
func NewLong(n int64) Value      { return Value{typ: ValueTypeLong, long: n} }
func NewDouble(f float64) Value  { return Value{typ: ValueTypeDouble, dbl: f} }
func NewString(s string) Value   { return Value{typ: ValueTypeString, str: s} }
func NewBoolean(b bool) Value    { return Value{typ: ValueTypeBoolean, bol: b} }
func NewKeyword(i Ident) Value   { return Value{typ: ValueTypeKeyword, kw: i} }
func NewInstant(t time.Time) Value { return Value{typ: ValueTypeInstant, inst: t} }
func NewUUID(u uuid.UUID) Value  { return Value{typ: ValueTypeUUID, uid: u} }

// Type reports which of the typed accessors below is valid.
func (v Value) Type() ValueType { return v.typ }

func (v Value) Ref() (Entid, bool) {
	return v.ref, v.typ == ValueTypeRef
}

func (v Value) Long() (int64, bool) {
	return v.long, v.typ == ValueTypeLong
}

func (v Value) Double() (float64, bool) {
	return v.dbl, v.typ == ValueTypeDouble
}

func (v Value) String() (string, bool) {
	return v.str, v.typ == ValueTypeString
}

func (v Value) Boolean() (bool, bool) {
	return v.bol, v.typ == ValueTypeBoolean
}

func (v Value) Keyword() (Ident, bool) {
	return v.kw, v.typ == ValueTypeKeyword
}

func (v Value) Instant() (time.Time, bool) {
	return v.inst, v.typ == ValueTypeInstant
}

func (v Value) UUID() (uuid.UUID, bool) {
	return v.uid, v.typ == ValueTypeUUID
}

// GoString renders a Value for debug/log output.
func (v Value) GoString() string {
	switch v.typ {
	case ValueTypeRef:
		return fmt.Sprintf("Ref(%d)", v.ref)
	case ValueTypeLong:
		return fmt.Sprintf("Long(%d)", v.long)
	case ValueTypeDouble:
		return fmt.Sprintf("Double(%v)", v.dbl)
	case ValueTypeString:
		return fmt.Sprintf("String(%q)", v.str)
	case ValueTypeBoolean:
		return fmt.Sprintf("Boolean(%v)", v.bol)
	case ValueTypeKeyword:
		return fmt.Sprintf("Keyword(%s)", v.kw)
	case ValueTypeInstant:
		return fmt.Sprintf("Instant(%s)", v.inst)
	case ValueTypeUUID:
		return fmt.Sprintf("UUID(%s)", v.uid)
	default:
		return "Value(?)"
	}
}
