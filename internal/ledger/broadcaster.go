package ledger

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type subscription struct {
	id    uint64
	match func(domain.Order) bool
	ch    chan []domain.Order
}

// broadcaster рассылает снимки заказов подписчикам.
// Загрузка снимка и отправка выполняются под одной блокировкой, поэтому
// последний отправленный снимок всегда соответствует последнему изменению.
type broadcaster struct {
	mu     sync.Mutex
	load   func() ([]domain.Order, error)
	logger *log.Entry
	nextID uint64
	subs   map[uint64]*subscription
	closed bool
}

func newBroadcaster(load func() ([]domain.Order, error), logger *log.Entry) *broadcaster {
	return &broadcaster{
		load:   load,
		logger: logger,
		subs:   make(map[uint64]*subscription),
	}
}

func (b *broadcaster) subscribe(match func(domain.Order) bool) (*subscription, error) {
	if match == nil {
		match = func(domain.Order) bool { return true }
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	all, err := b.load()
	if err != nil {
		return nil, domain.PersistenceErr("load snapshot", err)
	}

	b.nextID++
	sub := &subscription{id: b.nextID, match: match, ch: make(chan []domain.Order, 1)}
	deliver(sub, all)
	b.subs[sub.id] = sub
	return sub, nil
}

func (b *broadcaster) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
}

func (b *broadcaster) publish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subs) == 0 {
		return
	}
	all, err := b.load()
	if err != nil {
		b.logger.WithError(err).Error("load snapshot for subscribers failed")
		return
	}
	for _, sub := range b.subs {
		deliver(sub, all)
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	b.closed = true
}

// deliver заменяет непрочитанный снимок новым.
func deliver(sub *subscription, all []domain.Order) {
	snapshot := make([]domain.Order, 0, len(all))
	for _, o := range all {
		if sub.match(o) {
			snapshot = append(snapshot, o.Clone())
		}
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- snapshot:
	default:
	}
}
