package contentstack

import (
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

type Credentials struct {
	APIKey        string
	DeliveryToken string
	Environment   string
	Branch        string
}

func (c Credentials) headers(includeAPIKey bool) http.Header {
	headers := make(http.Header)
	if includeAPIKey && strings.TrimSpace(c.APIKey) != "" {
		headers.Set("api_key", c.APIKey)
	}
	if strings.TrimSpace(c.DeliveryToken) != "" {
		headers.Set("access_token", c.DeliveryToken)
	}
	if strings.TrimSpace(c.Branch) != "" {
		headers.Set("branch", c.Branch)
	}
	return headers
}

// GraphQLHeaders returns the headers the GraphQL endpoint expects. The API key travels in the URL.
func (c Credentials) GraphQLHeaders() http.Header {
	return c.headers(false)
}

func newHTTPClient(timeout time.Duration, headers http.Header) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &authTransport{
			base:    http.DefaultTransport,
			headers: headers,
		},
	}
}

type authTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) == 0 {
		return t.base.RoundTrip(req)
	}

	clone := req.Clone(req.Context())
	for key, values := range t.headers {
		clone.Header[key] = append([]string(nil), values...)
	}
	return t.base.RoundTrip(clone)
}
