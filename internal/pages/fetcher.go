package pages

import (
	"context"

	"site/internal/asyncdata"
	"site/internal/contentstack"
)

const (
	contentTypeUID = "page"
	urlField       = "url"
	keyPrefix      = "page-"
)

type Fetcher struct {
	stack *contentstack.Stack
	store *asyncdata.Store[*Page]
}

func NewFetcher(stack *contentstack.Stack, store *asyncdata.Store[*Page]) *Fetcher {
	if store == nil {
		store = asyncdata.NewStore[*Page]()
	}

	return &Fetcher{
		stack: stack,
		store: store,
	}
}

// Key returns the store key for url. Equal URLs share one slot; distinct URLs never collide.
func Key(url string) string {
	return keyPrefix + url
}

// FetchPage returns the page entry whose url field equals url.
//
// Data stays nil both before the first fetch settles and when no entry matches; Status
// tells the two apart. Backend failures surface as StatusError and are not retried.
func (f *Fetcher) FetchPage(ctx context.Context, url string, opts ...asyncdata.Option) (asyncdata.Result[*Page], error) {
	return f.store.Use(ctx, Key(url), f.producer(url), opts...)
}

func (f *Fetcher) Refresh(ctx context.Context, url string) error {
	return f.store.Refresh(ctx, Key(url))
}

func (f *Fetcher) Peek(url string) (asyncdata.Snapshot[*Page], bool) {
	return f.store.Peek(Key(url))
}

func (f *Fetcher) Watch(url string) (<-chan asyncdata.Snapshot[*Page], func()) {
	return f.store.Watch(Key(url))
}

func (f *Fetcher) producer(url string) asyncdata.Producer[*Page] {
	return func(ctx context.Context) (*Page, error) {
		query := f.stack.ContentType(contentTypeUID).
			Entry().
			Query().
			Where(urlField, contentstack.Equals, url)

		result, err := contentstack.Find[Page](ctx, query)
		if err != nil {
			return nil, err
		}
		if len(result.Entries) == 0 {
			return nil, nil
		}

		page := result.Entries[0]
		return &page, nil
	}
}
