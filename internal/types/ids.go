// README: Common identifier types shared across modules.
package types

import "github.com/google/uuid"

// ID is an opaque entity identifier. Every aggregate in the dispatch core
// (organization, driver, warehouse, route, assignment, bid window, bid)
// is addressed by one of these.
type ID string

// NewID generates a fresh random identifier.
func NewID() ID {
	return ID(uuid.NewString())
}

// Empty reports whether the id is the zero value.
func (id ID) Empty() bool {
	return id == ""
}
