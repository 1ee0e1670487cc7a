// Package pointers builds pointers to literals, mostly for the nullable
// session and voice-state columns.
package pointers

import "time"

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

func Float64(v float64) *float64  { return &v }
func String(v string) *string     { return &v }
func Time(v time.Time) *time.Time { return &v }
