package rollout

import "errors"

// StorageError implements errors unique to a rollout storage buffer.
type StorageError struct {
	Op  string
	Err error
}

// Error satisfies the error interface
func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

var errOverrun = errors.New("cursor past capacity")

var errNoTransition = errors.New("no completed transition to record")

// IsOverrun returns whether an error reports that an insert was
// attempted past the fixed step horizon of the buffer. An overrun
// indicates a horizon/collection-loop mismatch and is never silently
// truncated.
func IsOverrun(err error) bool {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		err = storageErr.Err
	}
	return err == errOverrun
}
