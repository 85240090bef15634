// Package fingerprint derives stable short identities for logical errors
// and alerts so repeated occurrences deduplicate to one record.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"regexp"
	"strings"
)

const unknownFrame = "unknown"

var framePattern = regexp.MustCompile(`([\w./\\-]+\.go):(\d+)`)

// ForError computes the fingerprint of a failure from its type name, message
// and optional stack trace. The same failure at the same call site yields the
// same digest across process restarts.
func ForError(errType, message, stack string) string {
	return digest(errType + "|" + message + "|" + TopFrame(stack))
}

// ForAlert computes the fingerprint of an alert descriptor.
func ForAlert(title, category, source string) string {
	return digest(title + "|" + category + "|" + source)
}

// TopFrame extracts the first meaningful source location from a stack trace,
// normalised to "basename.go:line". Returns "unknown" when no frame parses.
func TopFrame(stack string) string {
	for _, line := range strings.Split(stack, "\n") {
		match := framePattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		file := path.Base(strings.ReplaceAll(match[1], "\\", "/"))
		return file + ":" + match[2]
	}
	return unknownFrame
}

func digest(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:8])
}
