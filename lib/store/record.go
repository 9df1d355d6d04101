package store

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/rKV/lib/value"
)

// --------------------------------------------------------------------------
// Record
// --------------------------------------------------------------------------

// Record is a single stored record. Records are decoded freshly for every
// call and owned by the caller.
type Record struct {
	Key        *Key       // The key the record was read with (digest only for query rows)
	Bins       value.Bins // The bins of the record
	Generation uint32     // Number of modifications, starts at 1
	Expiration uint32     // Seconds to live, 0 means the record never expires
}

// String returns a human readable representation of the record
func (r *Record) String() string {
	return fmt.Sprintf("%v gen=%d exp=%d %s", r.Key, r.Generation, r.Expiration, r.Bins)
}

// --------------------------------------------------------------------------
// Policy
// --------------------------------------------------------------------------

// Default policy values
const (
	DefaultTotalTimeout = 1000 * time.Millisecond
	DefaultRetryCount   = 2
)

// NoRetry as Policy.RetryCount disables retries, 0 inherits the default
const NoRetry = -1

// Policy configures a single operation. Policies are plain values and are
// never modified by the driver. A nil policy uses the client defaults.
type Policy struct {
	TotalTimeout  time.Duration // End-to-end budget of the operation (0 inherits the default)
	SocketTimeout time.Duration // Budget of a single attempt (0 uses the remaining total budget)
	RetryCount    int           // Number of retries after the first attempt (0 inherits the default, NoRetry disables retries)

	GenerationCheck bool   // Put only succeeds if the stored generation equals Generation
	Generation      uint32 // Expected generation for GenerationCheck (0 = record absent)
	Expiration      uint32 // Seconds to live of written records (0 = never expire)
	IgnoreNotFound  bool   // Remove of an absent record succeeds
}

// NewPolicy returns a policy holding the default values
func NewPolicy() *Policy {
	return &Policy{
		TotalTimeout: DefaultTotalTimeout,
		RetryCount:   DefaultRetryCount,
	}
}

// Resolve returns a copy of the policy with zero timeouts and a zero retry
// count replaced by the values of defaults. A nil policy resolves to a copy
// of defaults. The resolved retry count is never negative.
func (p *Policy) Resolve(defaults *Policy) Policy {
	if defaults == nil {
		defaults = NewPolicy()
	}
	if p == nil {
		resolved := *defaults
		resolved.RetryCount = max(resolved.RetryCount, 0)
		return resolved
	}
	resolved := *p
	if resolved.TotalTimeout <= 0 {
		resolved.TotalTimeout = defaults.TotalTimeout
	}
	if resolved.SocketTimeout <= 0 {
		resolved.SocketTimeout = defaults.SocketTimeout
	}
	switch {
	case resolved.RetryCount == 0:
		resolved.RetryCount = max(defaults.RetryCount, 0)
	case resolved.RetryCount < 0:
		resolved.RetryCount = 0
	}
	return resolved
}

// AttemptTimeout returns the budget of a single attempt given the remaining
// total budget: min(socket timeout, remaining), or remaining if no socket
// timeout is set.
func (p Policy) AttemptTimeout(remaining time.Duration) time.Duration {
	if p.SocketTimeout > 0 && p.SocketTimeout < remaining {
		return p.SocketTimeout
	}
	return remaining
}
