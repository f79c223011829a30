// Package calendar supplies trading-day information.
//
// The core consults the calendar only to decide whether a scheduled firing
// should flush or discard buffered data, and to compute the earliest
// acceptable tick time after a non-trading period. Dates are compared by
// calendar day in their own location; time-of-day is ignored.
package calendar
