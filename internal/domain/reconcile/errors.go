package reconcile

import "errors"

var (
	// ErrSyncConflict marks drift beyond tolerance. It is informational
	// and only ever carried by reports.
	ErrSyncConflict     = errors.New("progression and economy xp diverge")
	ErrInvalidDirection = errors.New("invalid sync direction")
	// ErrBackupFailed aborts a synchronization whose safety backup could not be taken.
	ErrBackupFailed = errors.New("pre-sync backup failed")
)
