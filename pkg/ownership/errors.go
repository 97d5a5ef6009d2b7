package ownership

// OwnershipError is a typed error for the ownership context.
type OwnershipError string

func (e OwnershipError) Error() string { return string(e) }

const (
	// ErrOwnershipReassigned is returned when a thread that already has an
	// owner is recorded with a different sender. Ownership is set once.
	ErrOwnershipReassigned OwnershipError = "thread ownership cannot be reassigned"
	ErrClosed              OwnershipError = "ownership tracker closed"
)
