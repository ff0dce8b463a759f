package contentstack

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// APIError is a non-2xx response from the Content Delivery API.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	message := strings.TrimSpace(e.Message)
	if message == "" {
		message = "unexpected response"
	}
	if e.Code != 0 {
		return fmt.Sprintf("contentstack: %s (code %d, status %d)", message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("contentstack: %s (status %d)", message, e.StatusCode)
}

func parseAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}
	if !gjson.ValidBytes(body) {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}

	parsed := gjson.ParseBytes(body)
	apiErr.Code = int(parsed.Get("error_code").Int())
	apiErr.Message = parsed.Get("error_message").String()
	if apiErr.Message == "" {
		apiErr.Message = parsed.Get("message").String()
	}
	return apiErr
}
