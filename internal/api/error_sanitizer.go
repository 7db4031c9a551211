package api

import (
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/ignite/nurture-engine/internal/pkg/httputil"
)

// =============================================================================
// ERROR SANITIZER
// Ensures internal errors (connection strings, API keys, bucket names, file
// paths) are NEVER leaked to API consumers. 5xx errors collapse to generic
// safe messages while the full error is logged server-side; 4xx errors pass
// through after scrubbing, since they describe the caller's own input.
// =============================================================================

var (
	reDSN      = regexp.MustCompile(`(?i)\b(postgres|postgresql|redis|snowflake|https?)://[^\s"']*@[^\s"']+`)
	reSecretKV = regexp.MustCompile(`(?i)\b(password|passwd|api[_-]?key|apikey|secret|token|access[_-]?key|key)\s*[=:]\s*[^\s&"']+`)
	reAWSKeyID = regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)
	reS3URI    = regexp.MustCompile(`\bs3://[^\s"']+`)
	reFilePath = regexp.MustCompile(`(^|[\s"(])(/(?:[\w.-]+/)+[\w.-]+)`)
)

// scrubSecrets removes credential-shaped fragments from an error message so
// it is safe to return to a caller or write to shared logs.
func scrubSecrets(msg string) string {
	msg = reDSN.ReplaceAllString(msg, "<connection string>")
	msg = reSecretKV.ReplaceAllString(msg, "$1=<redacted>")
	msg = reAWSKeyID.ReplaceAllString(msg, "<aws key>")
	msg = reS3URI.ReplaceAllString(msg, "s3://<bucket>")
	msg = reFilePath.ReplaceAllString(msg, "$1<path>")
	return msg
}

// safeErrorMessage maps common internal error patterns to public-safe messages.
// For 400-level errors, the scrubbed original message is fine (user input
// issues). For 500-level errors, this returns a generic safe message.
func safeErrorMessage(status int, err error) string {
	if status < 500 {
		if err != nil {
			return scrubSecrets(err.Error())
		}
		return "bad request"
	}

	if err == nil {
		return "an internal error occurred"
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp"):
		return "service temporarily unavailable"

	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context canceled"):
		return "request timed out"

	case strings.Contains(errStr, "sql") ||
		strings.Contains(errStr, "pq:") ||
		strings.Contains(errStr, "query") ||
		strings.Contains(errStr, "scan") ||
		strings.Contains(errStr, "transaction") ||
		strings.Contains(errStr, "database"):
		return "a database error occurred"

	case strings.Contains(errStr, "json") ||
		strings.Contains(errStr, "unmarshal") ||
		strings.Contains(errStr, "marshal") ||
		strings.Contains(errStr, "decode") ||
		strings.Contains(errStr, "parse"):
		return "invalid data format"

	default:
		return "an internal error occurred"
	}
}

// respondSafeError logs the full internal error and sends a sanitized JSON
// error response. Use this whenever a 5xx would otherwise include
// err.Error() in the response.
func respondSafeError(w http.ResponseWriter, status int, err error) {
	msg := safeErrorMessage(status, err)
	if err != nil && status >= 500 {
		log.Printf("[API] %d: %v", status, err)
	}
	httputil.Error(w, status, msg)
}
