// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package builderr

import (
	"regexp"
	"strings"
)

// ErrorClass is a coarse classification of raw stderr/error text, used to
// attach a taxonomy kind before the text is logged.
type ErrorClass string

const (
	ClassTimeout        ErrorClass = "timeout"
	ClassRateLimit      ErrorClass = "rate_limit"
	ClassAuthentication ErrorClass = "authentication"
	ClassNotFound       ErrorClass = "not_found"
	ClassValidation     ErrorClass = "validation"
	ClassConnection     ErrorClass = "connection"
	ClassUnknown        ErrorClass = "unknown"
)

var classPatterns = []struct {
	class   ErrorClass
	pattern *regexp.Regexp
}{
	{ClassTimeout, regexp.MustCompile(`(?i)timed?\s*out|deadline exceeded`)},
	{ClassRateLimit, regexp.MustCompile(`(?i)rate.?limit|429|too many requests`)},
	{ClassAuthentication, regexp.MustCompile(`(?i)unauthoriz|forbidden|401|403|invalid api key`)},
	{ClassNotFound, regexp.MustCompile(`(?i)not found|404|no such file`)},
	{ClassValidation, regexp.MustCompile(`(?i)invalid|validation failed|bad request|400`)},
	{ClassConnection, regexp.MustCompile(`(?i)connection refused|connection reset|broken pipe|no route to host`)},
}

// Classify maps raw error text onto an ErrorClass using the same
// precedence order as the pattern table above. Unmatched text classifies
// as ClassUnknown, never as an error itself.
func Classify(msg string) ErrorClass {
	trimmed := strings.TrimSpace(msg)
	if trimmed == "" {
		return ClassUnknown
	}
	for _, cp := range classPatterns {
		if cp.pattern.MatchString(trimmed) {
			return cp.class
		}
	}
	return ClassUnknown
}
