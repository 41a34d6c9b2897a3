package utils

import (
	"errors"
	"net/url"
	"os"
	"strings"
)

const reportKeyPrefix = "reconciliation"

var ErrInvalidObjectKey = errors.New("invalid object key")

// ReportObjectKey builds reconciliation/<tenant>/<name>.xlsx. Segments must not
// contain path separators or traversal.
func ReportObjectKey(tenantId string, nameParts ...string) (string, error) {
	tenantId = strings.TrimSpace(tenantId)
	if !safeKeySegment(tenantId) {
		return "", ErrInvalidObjectKey
	}
	parts := make([]string, 0, len(nameParts))
	for _, p := range nameParts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !safeKeySegment(p) {
			return "", ErrInvalidObjectKey
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return "", ErrInvalidObjectKey
	}
	return reportKeyPrefix + "/" + tenantId + "/" + strings.Join(parts, "_") + ".xlsx", nil
}

func safeKeySegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, `/\`) && !strings.Contains(s, "..")
}

// BuildObjectAccessURL is the public (unsigned) URL of objectKey, or the key
// itself when no base URL is configured.
func BuildObjectAccessURL(objectKey string) string {
	base := strings.TrimSpace(os.Getenv("STORAGE_ACCESS_BASE_URL"))
	if base != "" {
		if strings.Contains(base, "{objectKey}") {
			escaped := objectKey
			if strings.Contains(base, "?") {
				escaped = url.QueryEscape(objectKey)
			}
			return strings.ReplaceAll(base, "{objectKey}", escaped)
		}
		if strings.Contains(base, "?") {
			return base + url.QueryEscape(objectKey)
		}
		return strings.TrimRight(base, "/") + "/" + objectKey
	}

	gcsURL := strings.TrimSpace(os.Getenv("GCS_URL"))
	if bucket, err := reportBucket(); gcsURL != "" && err == nil {
		return "https://" + gcsURL + "/" + bucket + "/" + objectKey
	}
	return objectKey
}
