package model

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewID returns a new lowercase ULID. Used as the correlation id embedded in
// remote jobs so a poller can find its own job among concurrent ones.
func NewID() string {
	return strings.ToLower(ulid.Make().String())
}
