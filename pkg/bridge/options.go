package bridge

import "github.com/sirupsen/logrus"

// Options configure one binding.
type Options struct {
	// StrictUnknownFields rejects batches that touch keys the model does
	// not declare. By default such keys are ignored.
	StrictUnknownFields bool

	// AutoResync rebuilds an out-of-sync binding from a fresh snapshot on
	// the next delivery instead of dropping the delivery.
	AutoResync bool

	// MaxPendingBatches bounds the reentrancy queue. On overflow the queue
	// is discarded and the binding goes out of sync. Zero means unbounded.
	MaxPendingBatches int

	// Logger overrides the registry logger for this binding.
	Logger *logrus.Entry
}
