package upload

import (
	"sort"
	"sync"
)

type subscriber struct {
	id     uint64
	listen Listener
	seen   uint64
	ok     bool
}

// broadcaster delivers States to listeners in Seq order, dropping any State
// older than one a listener has already received. It remembers the newest
// published State so a late subscriber never starts behind it.
type broadcaster struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]*subscriber
	last    State
	hasLast bool
}

func (b *broadcaster) subscribe(l Listener, current State) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[uint64]*subscriber)
	}
	b.nextID++
	sub := &subscriber{id: b.nextID, listen: l}
	b.subs[sub.id] = sub
	if b.hasLast && b.last.Seq > current.Seq {
		current = b.last
	}
	b.deliver(sub, current)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub.id)
			b.mu.Unlock()
		})
	}
}

func (b *broadcaster) publish(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasLast || s.Seq > b.last.Seq {
		b.last = s
		b.hasLast = true
	}
	if len(b.subs) == 0 {
		return
	}
	ordered := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		ordered = append(ordered, sub)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })
	for _, sub := range ordered {
		b.deliver(sub, s)
	}
}

func (b *broadcaster) deliver(sub *subscriber, s State) {
	if sub.ok && s.Seq <= sub.seen {
		return
	}
	sub.seen = s.Seq
	sub.ok = true
	sub.listen(s)
}
