package contentstack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const maxResponseBytes = 16 << 20

type DeliveryConfig struct {
	Credentials
	Region  Region
	Host    string
	Timeout time.Duration

	HTTPClient *http.Client
}

// DeliveryTransport queries the REST Content Delivery API.
type DeliveryTransport struct {
	baseURL     string
	environment string
	client      *http.Client
}

func NewDeliveryTransport(cfg DeliveryConfig) *DeliveryTransport {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = cfg.Region.DeliveryHost()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = newHTTPClient(cfg.Timeout, cfg.Credentials.headers(true))
	}

	return &DeliveryTransport{
		baseURL:     baseURL(host),
		environment: cfg.Environment,
		client:      client,
	}
}

func (t *DeliveryTransport) FindEntries(ctx context.Context, req Request) (*RawResult, error) {
	endpoint, err := t.entriesURL(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build entries request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("query %s entries: %w", req.ContentType, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s entries: %w", req.ContentType, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("query %s entries: response is not valid JSON", req.ContentType)
	}

	parsed := gjson.ParseBytes(body)
	result := &RawResult{Count: int(parsed.Get("count").Int())}
	parsed.Get("entries").ForEach(func(_, value gjson.Result) bool {
		result.Entries = append(result.Entries, json.RawMessage(value.Raw))
		return true
	})
	if result.Count == 0 {
		result.Count = len(result.Entries)
	}

	return result, nil
}

func (t *DeliveryTransport) entriesURL(req Request) (string, error) {
	query, err := deliveryQuery(req.Conditions)
	if err != nil {
		return "", err
	}

	params := make(url.Values)
	params.Set("environment", t.environment)
	params.Set("include_count", "true")
	if req.Locale != "" {
		params.Set("locale", req.Locale)
	}
	if query != "" {
		params.Set("query", query)
	}

	return t.baseURL + "/v3/content_types/" + url.PathEscape(req.ContentType) + "/entries?" + params.Encode(), nil
}

var deliveryOperators = map[Operator]string{
	NotEquals:          "$ne",
	Includes:           "$in",
	Excludes:           "$nin",
	Exists:             "$exists",
	LessThan:           "$lt",
	LessThanOrEqual:    "$lte",
	GreaterThan:        "$gt",
	GreaterThanOrEqual: "$gte",
}

// deliveryQuery renders conditions as the JSON document accepted by the "query" parameter.
// Conditions on different fields combine with AND.
func deliveryQuery(conditions []Condition) (string, error) {
	if len(conditions) == 0 {
		return "", nil
	}

	document := make(map[string]any, len(conditions))
	for _, condition := range conditions {
		if condition.Operator == Equals {
			document[condition.Field] = condition.Value
			continue
		}

		key, ok := deliveryOperators[condition.Operator]
		if !ok {
			return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, condition.Operator)
		}
		ops, ok := document[condition.Field].(map[string]any)
		if !ok {
			ops = make(map[string]any, 1)
			document[condition.Field] = ops
		}
		ops[key] = condition.Value
	}

	payload, err := json.Marshal(document)
	if err != nil {
		return "", fmt.Errorf("encode entries query: %w", err)
	}
	return string(payload), nil
}
