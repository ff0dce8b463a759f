// Package asyncdata keeps keyed asynchronous results with a status signal and manual refresh.
//
// Every key owns one slot. The first Use of a key runs its producer; concurrent Use calls
// for that key share the in-flight run and later calls read the cached outcome until the
// slot is refreshed or cleared.
package asyncdata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrUnknownKey = errors.New("asyncdata: unknown key")
	ErrNoProducer = errors.New("asyncdata: no producer registered")
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// DedupePolicy decides what Refresh does while a run for the same key is pending.
type DedupePolicy int

const (
	// DedupeDefer joins the pending run.
	DedupeDefer DedupePolicy = iota
	// DedupeCancel cancels the pending run and starts a new one.
	DedupeCancel
)

func ParseDedupePolicy(value string) (DedupePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "defer":
		return DedupeDefer, nil
	case "cancel":
		return DedupeCancel, nil
	default:
		return DedupeDefer, fmt.Errorf("asyncdata: unknown dedupe policy %q", value)
	}
}

func (p DedupePolicy) String() string {
	if p == DedupeCancel {
		return "cancel"
	}
	return "defer"
}

type Producer[T any] func(ctx context.Context) (T, error)

type Snapshot[T any] struct {
	Key       string
	Data      T
	Status    Status
	Err       error
	UpdatedAt time.Time

	gen uint64
}

type Result[T any] struct {
	Key     string
	Data    T
	Status  Status
	Err     error
	Refresh func(ctx context.Context) error
}

type StoreOption func(*storeOptions)

type storeOptions struct {
	logger *zap.Logger
	dedupe DedupePolicy
	now    func() time.Time
}

func WithLogger(logger *zap.Logger) StoreOption {
	return func(o *storeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithDedupe(policy DedupePolicy) StoreOption {
	return func(o *storeOptions) {
		o.dedupe = policy
	}
}

type Option func(*useOptions)

type useOptions struct {
	lazy      bool
	immediate bool
}

// Lazy makes Use return as soon as the run is registered instead of waiting for it.
func Lazy() Option {
	return func(o *useOptions) {
		o.lazy = true
	}
}

// Immediate(false) registers the producer without running it; the slot stays idle until refreshed.
func Immediate(run bool) Option {
	return func(o *useOptions) {
		o.immediate = run
	}
}

type Store[T any] struct {
	mu      sync.Mutex
	flights singleflight.Group
	slots   map[string]*slot[T]
	gen     uint64

	logger *zap.Logger
	dedupe DedupePolicy
	now    func() time.Time
}

type slot[T any] struct {
	producer  Producer[T]
	data      T
	status    Status
	err       error
	updatedAt time.Time

	gen    uint64
	cancel context.CancelFunc
	run    func() (interface{}, error)

	watchers    map[uint64]chan Snapshot[T]
	nextWatcher uint64
}

func NewStore[T any](opts ...StoreOption) *Store[T] {
	o := storeOptions{
		logger: zap.NewNop(),
		dedupe: DedupeDefer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Store[T]{
		slots:  make(map[string]*slot[T]),
		logger: o.logger,
		dedupe: o.dedupe,
		now:    o.now,
	}
}

// Use registers producer under key and returns the slot's state.
//
// The returned error is only ever the caller's context error; producer failures are
// reported through Result.Status and Result.Err.
func (s *Store[T]) Use(ctx context.Context, key string, producer Producer[T], opts ...Option) (Result[T], error) {
	o := useOptions{immediate: true}
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.Lock()
	sl := s.slotLocked(key)
	if producer != nil {
		sl.producer = producer
	}

	var wait <-chan singleflight.Result
	switch sl.status {
	case StatusIdle:
		if o.immediate && sl.producer != nil {
			wait = s.startLocked(ctx, key, sl)
		}
	case StatusPending:
		wait = s.joinLocked(key, sl)
	}

	if wait == nil || o.lazy {
		snapshot := sl.snapshotLocked(key)
		s.mu.Unlock()
		return s.result(snapshot), nil
	}
	s.mu.Unlock()

	return s.await(ctx, key, wait)
}

// Refresh runs the registered producer for key again and waits for it to settle.
func (s *Store[T]) Refresh(ctx context.Context, key string) error {
	s.mu.Lock()
	sl, ok := s.slots[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if sl.producer == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNoProducer, key)
	}

	var wait <-chan singleflight.Result
	if sl.status == StatusPending && s.dedupe == DedupeDefer {
		wait = s.joinLocked(key, sl)
	} else {
		if sl.status == StatusPending && sl.cancel != nil {
			sl.cancel()
		}
		wait = s.startLocked(ctx, key, sl)
	}
	s.mu.Unlock()

	_, err := s.await(ctx, key, wait)
	return err
}

func (s *Store[T]) Peek(key string) (Snapshot[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[key]
	if !ok {
		return Snapshot[T]{}, false
	}
	return sl.snapshotLocked(key), true
}

// Clear drops the slot for key, cancels its pending run and closes its watchers.
func (s *Store[T]) Clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[key]
	if !ok {
		return
	}
	if sl.cancel != nil {
		sl.cancel()
	}
	for id, ch := range sl.watchers {
		delete(sl.watchers, id)
		close(ch)
	}
	delete(s.slots, key)
}

// Watch delivers the current snapshot of key and then every later state change.
// Slow receivers only observe the most recent snapshot.
func (s *Store[T]) Watch(key string) (<-chan Snapshot[T], func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl := s.slotLocked(key)
	id := sl.nextWatcher
	sl.nextWatcher++

	ch := make(chan Snapshot[T], 1)
	ch <- sl.snapshotLocked(key)
	sl.watchers[id] = ch

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if current, ok := sl.watchers[id]; ok {
				delete(sl.watchers, id)
				close(current)
			}
		})
	}
	return ch, stop
}

func (s *Store[T]) slotLocked(key string) *slot[T] {
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot[T]{
			status:   StatusIdle,
			watchers: make(map[uint64]chan Snapshot[T]),
		}
		s.slots[key] = sl
	}
	return sl
}

func (s *Store[T]) startLocked(ctx context.Context, key string, sl *slot[T]) <-chan singleflight.Result {
	s.gen++
	gen := s.gen

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	producer := sl.producer

	sl.gen = gen
	sl.cancel = cancel
	sl.status = StatusPending
	sl.run = func() (interface{}, error) {
		return s.execute(runCtx, cancel, key, gen, producer), nil
	}
	s.notifyLocked(key, sl)

	s.logger.Debug("async data fetch started", zap.String("key", key), zap.Uint64("generation", gen))
	return s.flights.DoChan(flightKey(key, gen), sl.run)
}

// joinLocked attaches to the pending run of sl. The run commits its outcome under s.mu
// before its flight finishes, so a slot observed as pending always has a live flight.
func (s *Store[T]) joinLocked(key string, sl *slot[T]) <-chan singleflight.Result {
	return s.flights.DoChan(flightKey(key, sl.gen), sl.run)
}

func (s *Store[T]) execute(
	ctx context.Context,
	cancel context.CancelFunc,
	key string,
	gen uint64,
	producer Producer[T],
) Snapshot[T] {
	started := s.now()
	data, err := callProducer(ctx, producer)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	status := StatusSuccess
	if err != nil {
		status = StatusError
		var zero T
		data = zero
	}

	sl, ok := s.slots[key]
	if !ok || sl.gen != gen {
		s.logger.Debug("async data fetch superseded", zap.String("key", key), zap.Uint64("generation", gen))
		return Snapshot[T]{Key: key, Data: data, Status: status, Err: err, UpdatedAt: s.now(), gen: gen}
	}

	sl.data = data
	sl.err = err
	sl.status = status
	sl.updatedAt = s.now()
	sl.cancel = nil
	sl.run = nil
	s.notifyLocked(key, sl)

	elapsed := sl.updatedAt.Sub(started)
	if err != nil {
		s.logger.Warn("async data fetch failed",
			zap.String("key", key),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	} else {
		s.logger.Debug("async data fetch finished", zap.String("key", key), zap.Duration("elapsed", elapsed))
	}

	return sl.snapshotLocked(key)
}

func (s *Store[T]) await(ctx context.Context, key string, wait <-chan singleflight.Result) (Result[T], error) {
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			snapshot := Snapshot[T]{Key: key, Status: StatusIdle}
			if sl, ok := s.slots[key]; ok {
				snapshot = sl.snapshotLocked(key)
			}
			s.mu.Unlock()
			return s.result(snapshot), ctx.Err()
		case res := <-wait:
			snapshot, _ := res.Val.(Snapshot[T])

			s.mu.Lock()
			sl, ok := s.slots[key]
			if ok && sl.status == StatusPending && sl.gen != snapshot.gen {
				wait = s.joinLocked(key, sl)
				s.mu.Unlock()
				continue
			}
			if ok {
				snapshot = sl.snapshotLocked(key)
			}
			s.mu.Unlock()
			return s.result(snapshot), nil
		}
	}
}

func (s *Store[T]) notifyLocked(key string, sl *slot[T]) {
	if len(sl.watchers) == 0 {
		return
	}

	snapshot := sl.snapshotLocked(key)
	for _, ch := range sl.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}

func (s *Store[T]) result(snapshot Snapshot[T]) Result[T] {
	key := snapshot.Key
	return Result[T]{
		Key:    key,
		Data:   snapshot.Data,
		Status: snapshot.Status,
		Err:    snapshot.Err,
		Refresh: func(ctx context.Context) error {
			return s.Refresh(ctx, key)
		},
	}
}

func (sl *slot[T]) snapshotLocked(key string) Snapshot[T] {
	return Snapshot[T]{
		Key:       key,
		Data:      sl.data,
		Status:    sl.status,
		Err:       sl.err,
		UpdatedAt: sl.updatedAt,
		gen:       sl.gen,
	}
}

func callProducer[T any](ctx context.Context, producer Producer[T]) (data T, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			var zero T
			data = zero
			err = fmt.Errorf("asyncdata: producer panic: %v", recovered)
		}
	}()

	return producer(ctx)
}

func flightKey(key string, gen uint64) string {
	return key + "#" + strconv.FormatUint(gen, 10)
}
