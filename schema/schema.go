package schema

// Attribute is the definition of a single schema attribute: its value
// type, cardinality, uniqueness, and indexing hints.
type Attribute struct {
	Ident     Ident
	Entid     Entid
	ValueType ValueType
	Cardinality
	Unique  bool
	Indexed bool
	// NoHistory, when set, means the transactor should not retain
	// historical values of this attribute. Carried through only for
	// round-tripping schema-altering assertions; the core never reads it.
	NoHistory bool
}

// Schema is an immutable snapshot mapping attribute idents to their
// definitions, and entids to idents. It is always accessed through a
// *Schema pointer shared across readers; callers that need to mutate a
// draft call Clone() first and never mutate a published Schema in place.
type Schema struct {
	byIdent map[Ident]Attribute
	byEntid map[Entid]Attribute
}

// New returns an empty schema.
func New() *Schema {
	return &Schema{
		byIdent: make(map[Ident]Attribute),
		byEntid: make(map[Entid]Attribute),
	}
}

// Clone returns a deep, independently-mutable copy suitable for use as a
// transaction's draft schema. The original is left untouched.
func (s *Schema) Clone() *Schema {
	out := &Schema{
		byIdent: make(map[Ident]Attribute, len(s.byIdent)),
		byEntid: make(map[Entid]Attribute, len(s.byEntid)),
	}
	for k, v := range s.byIdent {
		out.byIdent[k] = v
	}
	for k, v := range s.byEntid {
		out.byEntid[k] = v
	}
	return out
}

// Equal reports whether two schemas hold the same attribute definitions.
// Used by the commit protocol to decide whether a new shared snapshot
// needs to be published.
func (s *Schema) Equal(other *Schema) bool {
	if s == other {
		return true
	}
	if len(s.byIdent) != len(other.byIdent) {
		return false
	}
	for k, v := range s.byIdent {
		ov, ok := other.byIdent[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// AttributeByIdent looks up an attribute definition by its ident.
func (s *Schema) AttributeByIdent(ident Ident) (Attribute, bool) {
	a, ok := s.byIdent[ident]
	return a, ok
}

// AttributeByEntid looks up an attribute definition by its entid.
func (s *Schema) AttributeByEntid(e Entid) (Attribute, bool) {
	a, ok := s.byEntid[e]
	return a, ok
}

// Entid resolves an ident to its numeric entid.
func (s *Schema) Entid(ident Ident) (Entid, bool) {
	a, ok := s.byIdent[ident]
	return a.Entid, ok
}

// PutAttribute installs or replaces an attribute definition, maintaining
// both directions of the ident<->entid index. Callers mutate only draft
// (cloned) schemas; a published Schema must never be mutated in place.
func (s *Schema) PutAttribute(a Attribute) {
	s.byIdent[a.Ident] = a
	s.byEntid[a.Entid] = a
}

// Attributes returns every attribute definition in the schema. The
// returned slice is a fresh copy; callers may not assume a stable order.
func (s *Schema) Attributes() []Attribute {
	out := make([]Attribute, 0, len(s.byIdent))
	for _, a := range s.byIdent {
		out = append(out, a)
	}
	return out
}

// Len reports the number of attributes defined in the schema.
func (s *Schema) Len() int {
	return len(s.byIdent)
}
