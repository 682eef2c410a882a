package storage

import (
	"fmt"

	"github.com/pingcap/errors"
)

// ErrRegionUnavailable is a region level condition that the caller should retry at a higher level.
type ErrRegionUnavailable string

func (e ErrRegionUnavailable) Error() string {
	return fmt.Sprintf("region unavailable: %s", string(e))
}

var (
	// ErrNotServingRegion is returned when the region is closed or closing, or has moved.
	ErrNotServingRegion = ErrRegionUnavailable("not serving region")
	// ErrRegionTooBusy is returned when admission control rejects an operation.
	ErrRegionTooBusy = ErrRegionUnavailable("region too busy")
)

// ErrInterrupted is returned when waiting for a region operation or row lock is cancelled.
var ErrInterrupted = errors.New("interrupted")

// ErrWrongRegion is returned when a key does not belong to the region, e.g. after a split.
type ErrWrongRegion struct {
	Key      []byte
	StartKey []byte
	EndKey   []byte
}

func (e *ErrWrongRegion) Error() string {
	return fmt.Sprintf("key %q is not in region [%q, %q)", e.Key, e.StartKey, e.EndKey)
}

// IsRegionUnavailable reports whether err, or its cause, tells the region cannot serve now.
func IsRegionUnavailable(err error) bool {
	_, ok := errors.Cause(err).(ErrRegionUnavailable)
	return ok
}

// IsWrongRegion reports whether the cause of err is an *ErrWrongRegion.
func IsWrongRegion(err error) bool {
	_, ok := errors.Cause(err).(*ErrWrongRegion)
	return ok
}
