// Package dedupe remembers which membership events were already handled so
// a redelivered or duplicated event does not trigger a second invite within
// the retention window.
package dedupe
