package contentstack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	genqlientgraphql "github.com/Khan/genqlient/graphql"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const entriesOpName = "Entries"

const defaultSelection = "title url system { uid locale content_type_uid updated_at }"

// DefaultSelections maps content type UIDs to the GraphQL selection set requested per item.
var DefaultSelections = map[string]string{
	"page": "title url description rich_text system { uid locale content_type_uid updated_at }",
}

type GraphQLConfig struct {
	Credentials
	Region  Region
	Host    string
	Timeout time.Duration

	// Selections overrides DefaultSelections per content type UID.
	Selections map[string]string
}

// GraphQLTransport queries the GraphQL Content Delivery API.
type GraphQLTransport struct {
	client     genqlientgraphql.Client
	selections map[string]string
}

func NewGraphQLTransport(cfg GraphQLConfig) *GraphQLTransport {
	endpoint := GraphQLEndpoint(cfg.Region, cfg.Host, cfg.APIKey, cfg.Environment)
	httpClient := newHTTPClient(cfg.Timeout, cfg.Credentials.headers(false))

	return NewGraphQLTransportWithClient(genqlientgraphql.NewClient(endpoint, httpClient), cfg.Selections)
}

func NewGraphQLTransportWithClient(client genqlientgraphql.Client, selections map[string]string) *GraphQLTransport {
	merged := make(map[string]string, len(DefaultSelections)+len(selections))
	for uid, selection := range DefaultSelections {
		merged[uid] = selection
	}
	for uid, selection := range selections {
		if strings.TrimSpace(selection) == "" {
			continue
		}
		merged[uid] = selection
	}

	return &GraphQLTransport{client: client, selections: merged}
}

// GraphQLEndpoint returns the stack endpoint; host may be empty to use the region default.
func GraphQLEndpoint(region Region, host string, apiKey string, environment string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		host = region.GraphQLHost()
	}

	params := make(url.Values)
	params.Set("environment", environment)
	return baseURL(host) + "/stacks/" + url.PathEscape(apiKey) + "?" + params.Encode()
}

func (t *GraphQLTransport) FindEntries(ctx context.Context, req Request) (*RawResult, error) {
	where, err := graphqlWhere(req.Conditions)
	if err != nil {
		return nil, err
	}

	field := "all_" + req.ContentType
	variables := map[string]any{"where": where}
	if req.Locale != "" {
		variables["locale"] = req.Locale
	}

	var data map[string]json.RawMessage
	gqlReq := &genqlientgraphql.Request{
		OpName:    entriesOpName,
		Query:     t.entriesQuery(req, field),
		Variables: variables,
	}
	gqlResp := &genqlientgraphql.Response{Data: &data}
	if err := t.client.MakeRequest(ctx, gqlReq, gqlResp); err != nil {
		return nil, fmt.Errorf("query %s entries: %w", req.ContentType, err)
	}

	connection := gjson.ParseBytes(data[field])
	result := &RawResult{Count: int(connection.Get("total").Int())}
	var normalizeErr error
	connection.Get("items").ForEach(func(_, item gjson.Result) bool {
		normalized, err := normalizeGraphQLItem(item.Raw)
		if err != nil {
			normalizeErr = err
			return false
		}
		result.Entries = append(result.Entries, normalized)
		return true
	})
	if normalizeErr != nil {
		return nil, fmt.Errorf("normalize %s entry: %w", req.ContentType, normalizeErr)
	}
	if result.Count == 0 {
		result.Count = len(result.Entries)
	}

	return result, nil
}

func (t *GraphQLTransport) entriesQuery(req Request, field string) string {
	selection, ok := t.selections[req.ContentType]
	if !ok {
		selection = defaultSelection
	}

	var b strings.Builder
	b.WriteString("query ")
	b.WriteString(entriesOpName)
	b.WriteString("($where: ")
	b.WriteString(whereTypeName(req.ContentType))
	if req.Locale != "" {
		b.WriteString(", $locale: String")
	}
	b.WriteString(") { ")
	b.WriteString(field)
	b.WriteString("(where: $where")
	if req.Locale != "" {
		b.WriteString(", locale: $locale")
	}
	b.WriteString(") { total items { ")
	b.WriteString(selection)
	b.WriteString(" } } }")
	return b.String()
}

var graphqlSuffixes = map[Operator]string{
	Equals:             "",
	NotEquals:          "_ne",
	Includes:           "_in",
	Excludes:           "_nin",
	Exists:             "_exists",
	LessThan:           "_lt",
	LessThanOrEqual:    "_lte",
	GreaterThan:        "_gt",
	GreaterThanOrEqual: "_gte",
}

func graphqlWhere(conditions []Condition) (map[string]any, error) {
	where := make(map[string]any, len(conditions))
	for _, condition := range conditions {
		suffix, ok := graphqlSuffixes[condition.Operator]
		if !ok {
			return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, condition.Operator)
		}
		where[condition.Field+suffix] = condition.Value
	}
	return where, nil
}

// whereTypeName converts a content type UID such as "blog_post" into "BlogPostWhere".
func whereTypeName(uid string) string {
	var b strings.Builder
	upper := true
	for _, r := range uid {
		if r == '_' || r == '-' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	b.WriteString("Where")
	return b.String()
}

// normalizeGraphQLItem lifts system metadata to the top-level keys used by the REST API.
func normalizeGraphQLItem(raw string) (json.RawMessage, error) {
	item := raw
	var err error
	for _, key := range []string{"uid", "locale"} {
		if gjson.Get(item, key).Exists() {
			continue
		}
		value := gjson.Get(item, "system."+key)
		if !value.Exists() {
			continue
		}
		item, err = sjson.Set(item, key, value.String())
		if err != nil {
			return nil, err
		}
	}
	return json.RawMessage(item), nil
}
