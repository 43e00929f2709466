// Package observability exposes the service's OpenTelemetry metrics over Prometheus.
package observability

import (
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

func methodAttr(method string) attribute.KeyValue { return attribute.String("method", method) }
func stageAttr(stage string) attribute.KeyValue { return attribute.String("stage", stage) }
func outcomeAttr(o string) attribute.KeyValue { return attribute.String("outcome", o) }
func kindAttr(kind string) attribute.KeyValue { return attribute.String("kind", kind) }
func successAttr(ok bool) attribute.KeyValue { return attribute.Bool("success", ok) }

func pathAttr(path string) attribute.KeyValue {
	return attribute.String("path", normalizePath(path))
}

// statusAttr buckets codes into classes such as "4xx".
func statusAttr(code int) attribute.KeyValue {
	return attribute.String("status", strconv.Itoa(code/100)+"xx")
}

// idRoutes end in a caller-chosen identifier.
var idRoutes = []struct{ prefix, placeholder string }{
	{"/api/check-status/", "{jobId}"},
}

// normalizePath collapses identifiers so paths stay low-cardinality.
func normalizePath(path string) string {
	for _, r := range idRoutes {
		if rest, ok := strings.CutPrefix(path, r.prefix); ok && rest != "" {
			return r.prefix + r.placeholder
		}
	}
	return path
}
