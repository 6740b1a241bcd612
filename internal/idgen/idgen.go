package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// NewFunc returns a new globally unique identifier. It is a variable so
// tests can stub it.
var NewFunc = func() string { return uuid.New().String() }

// New returns a new identifier.
func New() string { return NewFunc() }

// NewSignature returns an identifier shaped like a transaction signature:
// the uuid without dashes.
func NewSignature() string { return strings.ReplaceAll(NewFunc(), "-", "") }
