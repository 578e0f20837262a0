package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/bff/xerrors"
)

// memoryBroker 进程内广播，同步投递给所有订阅者
type memoryBroker struct {
	mu       sync.Mutex
	handlers map[int]func([]byte)
	next     int
	failPub  bool
}

func newMemoryBroker() *memoryBroker {
	return &memoryBroker{handlers: map[int]func([]byte){}}
}

func (b *memoryBroker) Publish(_ string, data []byte) error {
	b.mu.Lock()
	if b.failPub {
		b.mu.Unlock()
		return xerrors.New("broker down")
	}
	hs := make([]func([]byte), 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(data)
	}
	return nil
}

func (b *memoryBroker) Subscribe(_ string, h func([]byte)) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.handlers[id] = h
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
		return nil
	}, nil
}

// recordingCache 记录 InvalidatePrefix 调用
type recordingCache struct {
	Cache
	mu       sync.Mutex
	prefixes []string
}

func (r *recordingCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	r.mu.Lock()
	r.prefixes = append(r.prefixes, prefix)
	r.mu.Unlock()
	return r.Cache.InvalidatePrefix(ctx, prefix)
}

func (r *recordingCache) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prefixes...)
}

func TestBusPropagatesToOtherReplicas(t *testing.T) {
	ctx := context.Background()
	broker := newMemoryBroker()

	localA := &recordingCache{Cache: newMemoryCache(t)}
	localB := &recordingCache{Cache: newMemoryCache(t)}

	busA, err := NewBus(localA, broker, "")
	require.NoError(t, err)
	busB, err := NewBus(localB, broker, "")
	require.NoError(t, err)
	require.NoError(t, busA.Start())
	require.NoError(t, busB.Start())
	require.NoError(t, busA.Start())
	defer busA.Close()
	defer busB.Close()

	require.NoError(t, localB.Put(ctx, Key("7", "tasks", nil), jsonEntry(`{}`), time.Minute))

	require.NoError(t, busA.InvalidatePrefix(ctx, UserPrefix("7")))

	// A 只在本地失效一次，自己的广播被忽略
	assert.Equal(t, []string{"u:7:"}, localA.calls())
	assert.Equal(t, []string{"u:7:"}, localB.calls())
	_, ok := localB.Get(ctx, Key("7", "tasks", nil))
	assert.False(t, ok)
}

func TestBusPublishFailureKeepsLocalInvalidation(t *testing.T) {
	ctx := context.Background()
	broker := newMemoryBroker()
	broker.failPub = true

	local := newMemoryCache(t)
	bus, err := NewBus(local, broker, "custom.subject")
	require.NoError(t, err)

	require.NoError(t, local.Put(ctx, Key("7", "tasks", nil), jsonEntry(`{}`), time.Minute))
	assert.NoError(t, bus.InvalidatePrefix(ctx, UserPrefix("7")))

	_, ok := local.Get(ctx, Key("7", "tasks", nil))
	assert.False(t, ok)
}

func TestBusIgnoresMalformedMessages(t *testing.T) {
	local := &recordingCache{Cache: newMemoryCache(t)}
	bus, err := NewBus(local, newMemoryBroker(), "")
	require.NoError(t, err)

	bus.handle([]byte("not json"))
	bus.handle([]byte(`{"origin":"other","prefix":""}`))
	assert.Empty(t, local.calls())

	bus.handle([]byte(`{"origin":"other","prefix":"u:1:"}`))
	assert.Equal(t, []string{"u:1:"}, local.calls())
}

func TestNewBusValidation(t *testing.T) {
	_, err := NewBus(nil, newMemoryBroker(), "")
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	bus, err := NewBus(newMemoryCache(t), newMemoryBroker(), "")
	require.NoError(t, err)
	assert.NoError(t, bus.Close())
}
