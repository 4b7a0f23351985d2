package wifi

import "errors"

var (
	ErrNotSupported     = errors.New("not supported")
	ErrNotFound         = errors.New("not found")
	ErrNotAvailable     = errors.New("not available")
	ErrOperationFailed  = errors.New("operation failed")
	ErrWirelessDisabled = errors.New("wireless is disabled")

	ErrNullAccessPoint     = errors.New("access point is null")
	ErrInvalidSecretFormat = errors.New("invalid secret format")
	ErrNoManagedDevice     = errors.New("no managed wifi device")
	ErrInvalidHash         = errors.New("invalid access point hash")
)
