package conn

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/estuary/datomcore/backingstore"
	"github.com/estuary/datomcore/txdata"
)

// Kind classifies an Error, matching the error kinds of the core's
// contract: Bootstrap, EdnParse, TxParse, DbError, UnknownAttribute,
// NotCached, Race, and Backing (including a passed-through Busy).
type Kind int

const (
	KindBootstrap Kind = iota
	KindEdnParse
	KindTxParse
	KindDbError
	KindUnknownAttribute
	KindNotCached
	KindRace
	KindBacking
)

func (k Kind) String() string {
	switch k {
	case KindBootstrap:
		return "Bootstrap"
	case KindEdnParse:
		return "EdnParse"
	case KindTxParse:
		return "TxParse"
	case KindDbError:
		return "DbError"
	case KindUnknownAttribute:
		return "UnknownAttribute"
	case KindNotCached:
		return "NotCached"
	case KindRace:
		return "Race"
	case KindBacking:
		return "Backing"
	default:
		return "Unknown"
	}
}

// Error is the core's single error type. It wraps an underlying cause
// where one exists and carries whatever identifying text a Kind needs
// (e.g. the ident text for UnknownAttribute).
type Error struct {
	Kind  Kind
	Ident string
	Cause error
}

func (e *Error) Error() string {
	if e.Ident != "" {
		return fmt.Sprintf("%s(%s)", e.Kind, e.Ident)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func unknownAttributeError(ident string) *Error {
	return &Error{Kind: KindUnknownAttribute, Ident: ident}
}

// notCachedErr is the sentinel surfaced as KindNotCached.
var notCachedErr = errors.New("attribute is not cached")

// IsKind reports whether err is (or wraps) an *Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// wrapBacking classifies a backing-store error as KindBacking. ErrBusy
// (spec.md's Busy error) stays reachable through errors.Is, since callers
// branch on it directly.
func wrapBacking(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, backingstore.ErrBusy) {
		return newError(KindBacking, err)
	}
	return newError(KindBacking, err)
}

// classifyParseErr turns a txdata.Parser error into EdnParse or TxParse:
// EdnParse is malformed EDN syntax, TxParse is well-formed EDN that does
// not describe a valid transaction. A Parser wraps the latter in
// txdata.ShapeError; anything else is assumed malformed syntax.
func classifyParseErr(err error) *Error {
	var shapeErr *txdata.ShapeError
	if errors.As(err, &shapeErr) {
		return newError(KindTxParse, err)
	}
	return newError(KindEdnParse, err)
}

// raceError constructs the commit-time generation-mismatch error: the
// metadata generation advanced out from under this transaction, so it
// is fenced off from committing rather than silently overwriting.
func raceError() *Error {
	return newError(KindRace, pkgerrors.Errorf("this transaction was fenced off: metadata generation advanced under it"))
}
