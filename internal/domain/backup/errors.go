package backup

import "errors"

var (
	ErrNotFound = errors.New("backup not found")
	// ErrPartialRestore means progression records were restored but the
	// config write failed. The store holds restored records with the old config.
	ErrPartialRestore = errors.New("partial restore: config not written")
	// ErrCorrupt means a snapshot file no longer matches its manifest checksum.
	ErrCorrupt = errors.New("backup snapshot corrupt")
)
