package rpc

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tarancss/chainkit/lib/logging"
)

// Reporter receives classified failures.
type Reporter interface {
	// ReportOnce records c if nothing was recorded before and reports whether it did.
	ReportOnce(c Classification) bool
}

// FirstFailure keeps the first classified failure of the process.
type FirstFailure struct {
	first atomic.Pointer[Classification]
	log   *zap.Logger
}

// NewFirstFailure returns an empty FirstFailure that logs the failure it keeps.
func NewFirstFailure(log *zap.Logger) *FirstFailure {
	return &FirstFailure{log: logging.OrNop(log)}
}

func (f *FirstFailure) ReportOnce(c Classification) bool {
	if !f.first.CompareAndSwap(nil, &c) {
		return false
	}

	f.log.Warn("first RPC failure", zap.Stringer("classification", c), zap.String("message", c.Message))

	return true
}

// First returns the recorded failure, if any.
func (f *FirstFailure) First() (Classification, bool) {
	c := f.first.Load()
	if c == nil {
		return Classification{}, false
	}

	return *c, true
}
