package model

// Status is the externally computed state of a notification.
type Status string

const (
	StatusInValidation  Status = "IN_VALIDATION"
	StatusAccepted      Status = "ACCEPTED"
	StatusDelivering    Status = "DELIVERING"
	StatusDelivered     Status = "DELIVERED"
	StatusViewed        Status = "VIEWED"
	StatusEffectiveDate Status = "EFFECTIVE_DATE"
	StatusPaid          Status = "PAID"
	StatusUnreachable   Status = "UNREACHABLE"
	StatusCancelled     Status = "CANCELLED"
	StatusRefused       Status = "REFUSED"
)

var knownStatuses = map[Status]bool{
	StatusInValidation:  true,
	StatusAccepted:      true,
	StatusDelivering:    true,
	StatusDelivered:     true,
	StatusViewed:        true,
	StatusEffectiveDate: true,
	StatusPaid:          true,
	StatusUnreachable:   true,
	StatusCancelled:     true,
	StatusRefused:       true,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return knownStatuses[s]
}
