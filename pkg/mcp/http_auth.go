package mcp

import "net/http"

// headerTransport adds the configured headers (typically an Authorization
// bearer token for a remote MCP gateway) to every request. The original
// request is cloned, never mutated.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	clone := req.Clone(req.Context())
	for name, value := range t.headers {
		clone.Header.Set(name, value)
	}
	return base.RoundTrip(clone)
}
