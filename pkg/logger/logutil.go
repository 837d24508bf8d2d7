// Copyright (c) Portbridge contributors. All rights reserved.

package logger

import (
	"time"
)

// FriendlyTimestamp renders a timestamp for log output, using "none" for the zero value.
func FriendlyTimestamp(t time.Time) string {
	if t.IsZero() {
		return "none"
	}
	return t.Format(time.RFC3339Nano)
}

// FriendlyErrorString renders an error for log output, using "none" for nil.
func FriendlyErrorString(err error) string {
	if err == nil {
		return "none"
	}
	return err.Error()
}
