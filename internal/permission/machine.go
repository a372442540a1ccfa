package permission

import "fmt"

// TransitionError reports a requested transition absent from the table. It is
// a protocol error on the caller's side: nothing is appended and the
// projection is left unchanged.
type TransitionError struct {
	PermissionID string
	From         Status
	To           Kind
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("permission %s: illegal transition %s -> %s", e.PermissionID, e.From, e.To)
}

// transitions is the canonical table. One table drives every region
// connector; per-market differences live in the validator sets, not in
// subclassed machines.
var transitions = map[Status]map[Kind]struct{}{
	StatusCreated: {
		KindValidated: {},
		KindMalformed: {},
	},
	StatusValidated: {
		KindSentToAdministrator: {},
	},
	StatusSentToAdministrator: {
		KindPendingAcknowledgment: {},
		KindAccepted:              {},
		KindRejected:              {},
		KindInvalid:               {},
	},
	StatusPendingAcknowledgment: {
		// The administrator keeps acknowledging while the request is in
		// flight; a missing acknowledgment within the deadline is detected by
		// the timeout sweeper.
		KindSentToAdministrator: {},
		KindUnableToSend:        {},
	},
	StatusAccepted: {
		KindRevoked:       {},
		KindFulfilled:     {},
		KindUnfulfillable: {},
	},
}

// Allows reports whether an aggregate in state current may record an event of
// the given kind.
//
// InternalPolling is diagnostic and allowed everywhere, including terminal
// states. DataReceived is an internal event accepted while the permission is
// Accepted, without a state change.
func Allows(current Status, kind Kind) bool {
	switch kind {
	case KindInternalPolling:
		return current != ""
	case KindDataReceived:
		return current == StatusAccepted
	}
	if kind == KindCreated {
		return current == ""
	}
	_, ok := transitions[current][kind]
	return ok
}

// Guard returns the TransitionError for a disallowed kind, nil otherwise.
func Guard(permissionID string, current Status, kind Kind) error {
	if Allows(current, kind) {
		return nil
	}
	return &TransitionError{PermissionID: permissionID, From: current, To: kind}
}
