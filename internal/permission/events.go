package permission

import (
	"time"
)

// Kind discriminates the event variants that make up a permission's history.
// All variants share one physical store row shape; the kind decides which of
// the optional payload fields are meaningful.
type Kind string

const (
	KindCreated               Kind = "CREATED"
	KindValidated             Kind = "VALIDATED"
	KindMalformed             Kind = "MALFORMED"
	KindSentToAdministrator   Kind = "SENT_TO_ADMINISTRATOR"
	KindPendingAcknowledgment Kind = "PENDING_ACKNOWLEDGMENT"
	KindAccepted              Kind = "ACCEPTED"
	KindRejected              Kind = "REJECTED"
	KindInvalid               Kind = "INVALID"
	KindUnfulfillable         Kind = "UNFULFILLABLE"
	KindRevoked               Kind = "REVOKED"
	KindUnableToSend          Kind = "UNABLE_TO_SEND"
	KindFulfilled             Kind = "FULFILLED"
	KindDataReceived          Kind = "DATA_RECEIVED"
	KindInternalPolling       Kind = "INTERNAL_POLLING"
)

// Granularity is the sampling interval of the requested usage data.
type Granularity string

const (
	GranularityPT15M Granularity = "PT15M"
	GranularityPT1H  Granularity = "PT1H"
	GranularityP1D   Granularity = "P1D"
)

// AttributeError is a field-level validation failure. Validation failures are
// data, not errors: they travel inside a Malformed event and end up on the
// projection, never as a returned Go error.
type AttributeError struct {
	FieldName string `json:"fieldName"`
	Message   string `json:"message"`
}

// Window is a requested data window. End is nil for open-ended permissions
// that keep delivering data until revoked or terminated.
type Window struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// Open reports whether the window has no end date.
func (w Window) Open() bool { return w.End == nil }

// Event is the only persisted fact in the system. It is a tagged union: Kind
// selects which payload fields carry meaning. Events are immutable once
// appended; the store never rewrites or deletes them.
type Event struct {
	PermissionID string
	Kind         Kind
	OccurredAt   time.Time

	// Created payload. CorrelationID is the transient conversation id some
	// administrators echo back before the permission id is resolvable.
	ConnectionID  string
	DataNeedID    string
	CorrelationID string
	Granularity   Granularity

	// Created and Validated carry the requested window; DataReceived carries
	// the window the received readings cover.
	Window *Window

	// Malformed payload.
	Errors []AttributeError

	// DataReceived payload.
	MeterID string

	// Free-form detail from administrator responses and diagnostics.
	Message string
}

// Created starts a new aggregate. The permission id is assigned here and is
// immutable for the life of the aggregate.
func Created(permissionID, connectionID, dataNeedID, correlationID string, window Window, granularity Granularity, now time.Time) Event {
	return Event{
		PermissionID:  permissionID,
		Kind:          KindCreated,
		OccurredAt:    now,
		ConnectionID:  connectionID,
		DataNeedID:    dataNeedID,
		CorrelationID: correlationID,
		Granularity:   granularity,
		Window:        &window,
	}
}

// Validated records a window that passed every validator.
func Validated(permissionID string, window Window, now time.Time) Event {
	return Event{
		PermissionID: permissionID,
		Kind:         KindValidated,
		OccurredAt:   now,
		Window:       &window,
	}
}

// Malformed records the aggregated output of the validator chain. All
// validators run; their errors arrive here as one list.
func Malformed(permissionID string, errs []AttributeError, now time.Time) Event {
	return Event{
		PermissionID: permissionID,
		Kind:         KindMalformed,
		OccurredAt:   now,
		Errors:       errs,
	}
}

// DataReceived records that readings for one meter covering the given window
// were fetched from the administrator.
func DataReceived(permissionID, meterID string, window Window, now time.Time) Event {
	return Event{
		PermissionID: permissionID,
		Kind:         KindDataReceived,
		OccurredAt:   now,
		MeterID:      meterID,
		Window:       &window,
	}
}

// Simple builds an event that carries no payload beyond an optional message:
// administrator responses, revocations, diagnostics.
func Simple(permissionID string, kind Kind, message string, now time.Time) Event {
	return Event{
		PermissionID: permissionID,
		Kind:         kind,
		OccurredAt:   now,
		Message:      message,
	}
}
