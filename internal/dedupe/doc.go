// Package dedupe provides a bounded, time-limited window of seen keys used
// to drop events the server delivers twice and to remember which outbound
// idempotency keys were already acknowledged.
package dedupe
