package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers
// return these (optionally wrapped) so services can translate them into
// domain answers.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: aggregate or record does not exist in the store
// - ErrConflict: a concurrent writer already took the sequence position
// - ErrUnavailable: store or downstream temporarily unavailable
//
// Validation failures are data, not errors: they travel inside Malformed
// events and surface on the projection.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
