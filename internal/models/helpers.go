// Package models defines the data structures passed between pipeline stages.
package models

import "time"

// TimestampLayout is used in every artifact file name so names sort chronologically.
const TimestampLayout = "20060102_150405"

// FileTimestamp formats t for use in artifact file names.
func FileTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
