// Package ai defines the upstream generation adapters and owns the mapping
// from upstream status codes and messages to failure kinds. Nothing outside
// this package inspects upstream error strings.
package ai

import (
	"strings"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
)

// ClassifyStatus maps an HTTP status and response message to a FailKind.
// Substring matches are case-insensitive.
func ClassifyStatus(status int, message string) domain.FailKind {
	m := strings.ToLower(message)
	switch {
	case status == 429 || strings.Contains(m, "quota") || strings.Contains(m, "rate limit"):
		return domain.KindQuota
	case status == 401 || status == 403 ||
		strings.Contains(m, "auth") || strings.Contains(m, "api key") || strings.Contains(m, "unauthorized"):
		return domain.KindAuth
	case status == 500 || status == 502 || status == 503 || status == 504 ||
		strings.Contains(m, "service unavailable"):
		return domain.KindTransient
	case status == 400 && (strings.Contains(m, "prompt") || strings.Contains(m, "malformed") || strings.Contains(m, "invalid input")):
		return domain.KindInputInvalid
	default:
		return domain.KindOther
	}
}

// ClassifyTransport maps transport-level call failures: no HTTP response
// means timeout or connection loss, which is transient by definition here.
func ClassifyTransport(err error) domain.FailKind {
	if err == nil {
		return domain.KindNone
	}
	return domain.KindTransient
}
