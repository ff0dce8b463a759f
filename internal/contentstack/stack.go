package contentstack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidQuery = errors.New("contentstack: invalid query")

// Operator names a comparison applied by Query.Where.
type Operator string

const (
	Equals             Operator = "equals"
	NotEquals          Operator = "not_equals"
	Includes           Operator = "includes"
	Excludes           Operator = "excludes"
	Exists             Operator = "exists"
	LessThan           Operator = "less_than"
	LessThanOrEqual    Operator = "less_than_or_equal"
	GreaterThan        Operator = "greater_than"
	GreaterThanOrEqual Operator = "greater_than_or_equal"
)

func (op Operator) valid() bool {
	switch op {
	case Equals, NotEquals, Includes, Excludes, Exists,
		LessThan, LessThanOrEqual, GreaterThan, GreaterThanOrEqual:
		return true
	default:
		return false
	}
}

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// Request is the transport-neutral form of an entries query.
type Request struct {
	ContentType string
	Locale      string
	Conditions  []Condition
}

type RawResult struct {
	Entries []json.RawMessage
	Count   int
}

type Transport interface {
	FindEntries(ctx context.Context, req Request) (*RawResult, error)
}

type FindResult[T any] struct {
	Entries []T
	Count   int
}

type StackOption func(*Stack)

func WithLocale(locale string) StackOption {
	return func(s *Stack) {
		s.locale = strings.TrimSpace(locale)
	}
}

type Stack struct {
	transport Transport
	locale    string
}

func NewStack(transport Transport, opts ...StackOption) *Stack {
	stack := &Stack{transport: transport}
	for _, opt := range opts {
		opt(stack)
	}

	return stack
}

func (s *Stack) ContentType(uid string) *ContentType {
	return &ContentType{stack: s, uid: uid}
}

type ContentType struct {
	stack *Stack
	uid   string
}

func (c *ContentType) Entry() *Entries {
	return &Entries{contentType: c}
}

type Entries struct {
	contentType *ContentType
}

func (e *Entries) Query() *Query {
	return &Query{
		stack:       e.contentType.stack,
		contentType: e.contentType.uid,
		locale:      e.contentType.stack.locale,
	}
}

type Query struct {
	stack       *Stack
	contentType string
	locale      string
	conditions  []Condition
	err         error
}

func (q *Query) Where(field string, op Operator, value any) *Query {
	if q.err != nil {
		return q
	}
	if strings.TrimSpace(field) == "" {
		q.err = fmt.Errorf("%w: empty field name", ErrInvalidQuery)
		return q
	}
	if !op.valid() {
		q.err = fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, op)
		return q
	}

	q.conditions = append(q.conditions, Condition{Field: field, Operator: op, Value: value})
	return q
}

func (q *Query) Locale(code string) *Query {
	q.locale = strings.TrimSpace(code)
	return q
}

func (q *Query) Request() (Request, error) {
	if q.err != nil {
		return Request{}, q.err
	}
	if strings.TrimSpace(q.contentType) == "" {
		return Request{}, fmt.Errorf("%w: empty content type", ErrInvalidQuery)
	}

	conditions := make([]Condition, len(q.conditions))
	copy(conditions, q.conditions)

	return Request{
		ContentType: q.contentType,
		Locale:      q.locale,
		Conditions:  conditions,
	}, nil
}

// Find executes q and decodes every matched entry into T, preserving backend order.
func Find[T any](ctx context.Context, q *Query) (FindResult[T], error) {
	if q == nil || q.stack == nil || q.stack.transport == nil {
		return FindResult[T]{}, fmt.Errorf("%w: query is not bound to a stack", ErrInvalidQuery)
	}

	req, err := q.Request()
	if err != nil {
		return FindResult[T]{}, err
	}

	raw, err := q.stack.transport.FindEntries(ctx, req)
	if err != nil {
		return FindResult[T]{}, err
	}
	if raw == nil {
		return FindResult[T]{Entries: []T{}}, nil
	}

	entries := make([]T, 0, len(raw.Entries))
	for idx, item := range raw.Entries {
		var entry T
		if err := json.Unmarshal(item, &entry); err != nil {
			return FindResult[T]{}, fmt.Errorf("decode %s entry %d: %w", req.ContentType, idx, err)
		}
		entries = append(entries, entry)
	}

	return FindResult[T]{Entries: entries, Count: raw.Count}, nil
}
