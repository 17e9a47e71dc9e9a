package util

import (
	"fmt"
	"strings"
)

func StrPtr(s string) *string       { return &s }
func IntPtr(i int) *int             { return &i }
func Int64Ptr(i int64) *int64       { return &i }
func Float32Ptr(f float32) *float32 { return &f }
func BoolPtr(b bool) *bool          { return &b }

// CorrelationID builds the queue correlation key for a prediction owned by a user
func CorrelationID(predictionID, userID string) string {
	return fmt.Sprintf("%s::%s", predictionID, userID)
}

// FromCorrelationID splits a correlation key back into prediction ID and user ID
func FromCorrelationID(correlationID string) (string, string, error) {
	parts := strings.SplitN(correlationID, "::", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid correlation ID format: %s", correlationID)
	}
	return parts[0], parts[1], nil
}

// Gb2b converts gigabytes to bytes, used for queue memory hints
func Gb2b(n float32) float32 {
	return n * 1024 * 1024 * 1024
}
