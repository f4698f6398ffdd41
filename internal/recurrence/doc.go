// Package recurrence models the recurrence rules attached to calendar events
// and encodes them to/from the compact RRULE text stored with each event.
//
// Only a subset of RFC 5545 is understood:
//   - FREQ (DAILY, WEEKLY, MONTHLY, YEARLY)
//   - BYDAY (weekday codes, meaningful for WEEKLY only)
//   - UNTIL (compact UTC timestamp) or COUNT
//
// Other keys are ignored on decode so newer writers do not break older readers.
package recurrence
