// Package util provides utility functions for the chatbot service.
package util

import (
	"math/rand"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand; the output is not suitable for cryptographic purposes.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.Intn(16)])
	}

	return builder.String()
}

// GeneratePaymentID generates a unique payment ID with "pay_" prefix.
func GeneratePaymentID() string {
	return GenerateRandomID("pay_", 32)
}

// GenerateEnrollmentID generates a unique enrollment ID with "enr_" prefix.
func GenerateEnrollmentID() string {
	return GenerateRandomID("enr_", 32)
}

// GenerateReminderID generates a unique reminder ID with "rem_" prefix.
func GenerateReminderID() string {
	return GenerateRandomID("rem_", 32)
}

// GenerateJobID generates a unique job ID with "job_" prefix.
func GenerateJobID() string {
	return GenerateRandomID("job_", 32)
}
