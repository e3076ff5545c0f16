package profile

import (
	"errors"
	"fmt"
)

// ErrLockTimeout is returned when a wallet lock is not acquired within the lock timeout.
var ErrLockTimeout = errors.New("wallet profile lock timeout")

// ProfileUpdateFailure reports a transaction dropped after lock retries were exhausted.
type ProfileUpdateFailure struct {
	Wallet    string
	Signature string
	Attempts  int
	Err       error
}

func (e *ProfileUpdateFailure) Error() string {
	return fmt.Sprintf("profile update failed for wallet %s (tx %s) after %d attempts: %v",
		e.Wallet, e.Signature, e.Attempts, e.Err)
}

func (e *ProfileUpdateFailure) Unwrap() error {
	return e.Err
}
