// Package schema holds the immutable schema snapshot: attribute
// definitions, the ident<->entid bidirectional index, and the typed
// value representation attributes hold.
package schema

import (
	"fmt"
	"strings"
)

// Entid is a 64-bit numeric entity identifier.
type Entid int64

// Ident is a namespaced keyword alias for an Entid, e.g. :foo/bar.
type Ident struct {
	Namespace string
	Name      string
}

// String renders the ident in :namespace/name form.
func (i Ident) String() string {
	return ":" + i.Namespace + "/" + i.Name
}

// ParseIdent parses textual ":namespace/name" idents.
func ParseIdent(text string) (Ident, error) {
	if !strings.HasPrefix(text, ":") {
		return Ident{}, fmt.Errorf("ident %q must start with ':'", text)
	}
	rest := text[1:]
	slash := strings.IndexByte(rest, '/')
	if slash <= 0 || slash == len(rest)-1 {
		return Ident{}, fmt.Errorf("ident %q must be of the form :namespace/name", text)
	}
	return Ident{Namespace: rest[:slash], Name: rest[slash+1:]}, nil
}
