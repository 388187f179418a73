// Package monitor provides a generic retry, backoff, and timeout wrapper
// around fallible operations.
//
// Run executes an operation under a Policy: per-attempt timeouts, failure
// classification (Transient, Permanent, QuotaExceeded), exponential backoff
// with jitter, and an ordered error history in the returned Result. The
// monitor has no domain knowledge; callers supply their own classifier and
// policy, and persist the attempt count and last error themselves.
package monitor
