// Copyright 2025 Opsgrid Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorClass categorizes a failure for retry purposes.
type ErrorClass int

const (
	// Transient failures are retried per policy.
	Transient ErrorClass = iota + 1
	// Permanent failures abort immediately and are never retried.
	Permanent
	// QuotaExceeded failures are retried like Transient ones, but with a
	// longer backoff floor to respect upstream rate limits.
	QuotaExceeded
)

// String returns the class name used in logs and error history.
func (c ErrorClass) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case QuotaExceeded:
		return "quota_exceeded"
	default:
		return "unknown"
	}
}

// Classifier maps a failure to an ErrorClass. Callers supply their own
// classifier; the monitor itself has no domain knowledge.
type Classifier func(err error) ErrorClass

// TransientError marks an error as Transient for DefaultClassifier.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks an error as Permanent for DefaultClassifier.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// QuotaError marks an error as QuotaExceeded for DefaultClassifier.
type QuotaError struct {
	Err error
}

func (e *QuotaError) Error() string { return fmt.Sprintf("quota exceeded: %v", e.Err) }
func (e *QuotaError) Unwrap() error { return e.Err }

// AsTransient wraps err so DefaultClassifier treats it as Transient.
// Returns nil when err is nil.
func AsTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// AsPermanent wraps err so DefaultClassifier treats it as Permanent.
// Returns nil when err is nil.
func AsPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// AsQuota wraps err so DefaultClassifier treats it as QuotaExceeded.
// Returns nil when err is nil.
func AsQuota(err error) error {
	if err == nil {
		return nil
	}
	return &QuotaError{Err: err}
}

// DefaultClassifier classifies errors by wrapper type first, then by shape:
//   - explicit TransientError/PermanentError/QuotaError wrappers win
//   - context cancellation is Permanent (the caller gave up)
//   - deadline expiry and network timeouts are Transient
//   - everything else is Transient, the conservative choice for remote calls
func DefaultClassifier(err error) ErrorClass {
	var te *TransientError
	if errors.As(err, &te) {
		return Transient
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return Permanent
	}
	var qe *QuotaError
	if errors.As(err, &qe) {
		return QuotaExceeded
	}
	if errors.Is(err, context.Canceled) {
		return Permanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	return Transient
}
