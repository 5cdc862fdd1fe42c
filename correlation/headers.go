package correlation

import (
	"context"
	"strings"
)

// Header is the header name written on outbound messages.
const Header = "X-Correlation-ID"

// headerNames lists accepted inbound header names in priority order.
var headerNames = []string{
	"x-correlation-id",
	"x-request-id",
	"x-trace-id",
	"correlation-id",
	"request-id",
	"trace-id",
}

// ExtractFromHeaders looks up the correlation ID in headers. Names are matched
// case-insensitively, with `_` accepted in place of `-`, and with or without the
// `x-` prefix. Values failing Normalize are ignored.
func ExtractFromHeaders(headers map[string]string) (string, bool) {
	if len(headers) == 0 {
		return "", false
	}
	folded := make(map[string]string, len(headers))
	for k, v := range headers {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), "_", "-")
		if _, seen := folded[key]; !seen {
			folded[key] = v
		}
	}
	for _, name := range headerNames {
		v, ok := folded[name]
		if !ok {
			continue
		}
		if id, ok := Normalize(v); ok {
			return id, true
		}
	}
	return "", false
}

// InjectIntoHeaders writes id, or the ID carried by ctx when id is empty, into
// headers under Header. A nil map is allocated. Nothing is written when no ID is available.
func InjectIntoHeaders(ctx context.Context, headers map[string]string, id string) map[string]string {
	if headers == nil {
		headers = make(map[string]string, 1)
	}
	if id == "" {
		id = ID(ctx)
	}
	if id == "" {
		return headers
	}
	for k := range headers {
		if strings.EqualFold(k, Header) {
			delete(headers, k)
		}
	}
	headers[Header] = id
	return headers
}
