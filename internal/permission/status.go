package permission

// Status is the canonical lifecycle state of a permission request.
type Status string

const (
	StatusCreated               Status = "CREATED"
	StatusValidated             Status = "VALIDATED"
	StatusMalformed             Status = "MALFORMED"
	StatusSentToAdministrator   Status = "SENT_TO_ADMINISTRATOR"
	StatusPendingAcknowledgment Status = "PENDING_ACKNOWLEDGMENT"
	StatusAccepted              Status = "ACCEPTED"
	StatusRejected              Status = "REJECTED"
	StatusInvalid               Status = "INVALID"
	StatusUnfulfillable         Status = "UNFULFILLABLE"
	StatusRevoked               Status = "REVOKED"
	StatusUnableToSend          Status = "UNABLE_TO_SEND"
	StatusFulfilled             Status = "FULFILLED"
)

// statusByKind maps domain-progress event kinds to the status they establish.
// DataReceived and InternalPolling are absent on purpose: they never move the
// aggregate.
var statusByKind = map[Kind]Status{
	KindCreated:               StatusCreated,
	KindValidated:             StatusValidated,
	KindMalformed:             StatusMalformed,
	KindSentToAdministrator:   StatusSentToAdministrator,
	KindPendingAcknowledgment: StatusPendingAcknowledgment,
	KindAccepted:              StatusAccepted,
	KindRejected:              StatusRejected,
	KindInvalid:               StatusInvalid,
	KindUnfulfillable:         StatusUnfulfillable,
	KindRevoked:               StatusRevoked,
	KindUnableToSend:          StatusUnableToSend,
	KindFulfilled:             StatusFulfilled,
}

// StatusOf returns the status an event kind establishes, or false for kinds
// that record facts without moving the aggregate.
func StatusOf(kind Kind) (Status, bool) {
	s, ok := statusByKind[kind]
	return s, ok
}

// Terminal reports whether no further domain progress is expected from the
// status. Diagnostic events (InternalPolling) may still be recorded.
func (s Status) Terminal() bool {
	switch s {
	case StatusMalformed, StatusRejected, StatusInvalid, StatusRevoked,
		StatusUnfulfillable, StatusUnableToSend, StatusFulfilled:
		return true
	}
	return false
}
