package events

import (
	"sync"

	"github.com/langchou/drivesentry/internal/models"
)

// Handler 事件处理函数，在发布方的 goroutine 上同步执行
type Handler func(models.Event)

// Bus 进程内领域事件总线，替代浏览器侧的 CustomEvent 广播
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[models.EventType]map[int]Handler
	all    map[int]Handler
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{
		subs: make(map[models.EventType]map[int]Handler),
		all:  make(map[int]Handler),
	}
}

// Subscribe 订阅指定类型的事件，返回取消函数
// 取消是幂等的，可重复调用
func (b *Bus) Subscribe(kind models.EventType, h Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[kind] == nil {
		b.subs[kind] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[kind][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[kind], id)
	}
}

// SubscribeAll 订阅全部事件，返回取消函数
func (b *Bus) SubscribeAll(h Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.all[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// Publish 发布事件给所有匹配的订阅者
func (b *Bus) Publish(e models.Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Kind()])+len(b.all))
	for _, h := range b.subs[e.Kind()] {
		handlers = append(handlers, h)
	}
	for _, h := range b.all {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	// 锁外执行，允许处理函数内再订阅/取消
	for _, h := range handlers {
		h(e)
	}
}
