package contentstack

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Khan/genqlient/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

type fakeGraphQLClient struct {
	requests []*graphql.Request
	payload  string
	err      error
}

func (c *fakeGraphQLClient) MakeRequest(_ context.Context, req *graphql.Request, resp *graphql.Response) error {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return c.err
	}

	switch req.OpName {
	case entriesOpName:
		return json.Unmarshal([]byte(c.payload), resp.Data)
	default:
		return gqlerror.Errorf("unexpected operation %q", req.OpName)
	}
}

func TestGraphQLTransportFindEntries(t *testing.T) {
	client := &fakeGraphQLClient{payload: `{
		"all_page": {
			"total": 1,
			"items": [
				{"title":"About","url":"/about","system":{"uid":"blt1","locale":"en-us"}}
			]
		}
	}`}
	stack := NewStack(NewGraphQLTransportWithClient(client, nil), WithLocale("en-us"))

	result, err := Find[testEntry](context.Background(), stack.ContentType("page").Entry().Query().Where("url", Equals, "/about"))
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "blt1", result.Entries[0].UID)
	assert.Equal(t, "About", result.Entries[0].Title)
	assert.Equal(t, 1, result.Count)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, entriesOpName, req.OpName)
	assert.True(t, strings.HasPrefix(req.Query, "query Entries($where: PageWhere, $locale: String)"))
	assert.Contains(t, req.Query, "all_page(where: $where, locale: $locale)")
	assert.Contains(t, req.Query, "rich_text")
	assert.Equal(t, map[string]any{
		"where":  map[string]any{"url": "/about"},
		"locale": "en-us",
	}, req.Variables)
}

func TestGraphQLTransportEmptyItems(t *testing.T) {
	client := &fakeGraphQLClient{payload: `{"all_page": {"total": 0, "items": []}}`}
	transport := NewGraphQLTransportWithClient(client, nil)

	result, err := transport.FindEntries(context.Background(), Request{ContentType: "page"})
	require.NoError(t, err)
	assert.Empty(t, result.Entries)
}

func TestGraphQLTransportPropagatesErrors(t *testing.T) {
	client := &fakeGraphQLClient{err: gqlerror.Errorf("access token invalid")}
	transport := NewGraphQLTransportWithClient(client, nil)

	_, err := transport.FindEntries(context.Background(), Request{ContentType: "page"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access token invalid")
}

func TestGraphQLTransportSelections(t *testing.T) {
	client := &fakeGraphQLClient{payload: `{"all_blog_post": {"items": []}}`}
	transport := NewGraphQLTransportWithClient(client, map[string]string{"blog_post": "title body"})

	_, err := transport.FindEntries(context.Background(), Request{
		ContentType: "blog_post",
		Conditions: []Condition{
			{Field: "title", Operator: NotEquals, Value: "draft"},
			{Field: "views", Operator: GreaterThanOrEqual, Value: 3},
		},
	})
	require.NoError(t, err)

	req := client.requests[0]
	assert.Equal(t, "query Entries($where: BlogPostWhere) { all_blog_post(where: $where) { total items { title body } } }", req.Query)
	assert.Equal(t, map[string]any{
		"where": map[string]any{"title_ne": "draft", "views_gte": 3},
	}, req.Variables)
}

func TestGraphQLEndpoint(t *testing.T) {
	assert.Equal(t,
		"https://eu-graphql.contentstack.com/stacks/key?environment=production",
		GraphQLEndpoint(RegionEU, "", "key", "production"),
	)
	assert.Equal(t,
		"http://127.0.0.1:9000/stacks/key?environment=dev",
		GraphQLEndpoint(RegionNA, "http://127.0.0.1:9000/", "key", "dev"),
	)
}

func TestNormalizeGraphQLItemKeepsExistingUID(t *testing.T) {
	normalized, err := normalizeGraphQLItem(`{"uid":"top","system":{"uid":"nested","locale":"de-de"}}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"uid":"top","locale":"de-de","system":{"uid":"nested","locale":"de-de"}}`, string(normalized))
}

func TestGraphQLHeadersOmitAPIKey(t *testing.T) {
	headers := Credentials{APIKey: "key", DeliveryToken: "token", Branch: "main"}.GraphQLHeaders()

	assert.Empty(t, headers.Get("api_key"))
	assert.Equal(t, "token", headers.Get("access_token"))
	assert.Equal(t, "main", headers.Get("branch"))
}
