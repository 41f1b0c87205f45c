package wallet

import "sync"

const subscriberBuffer = 8

// Broadcaster fans account changes out to subscribers and remembers the
// current account. Providers embed it.
type Broadcaster struct {
	mu      sync.Mutex
	current string
	next    int
	subs    map[int]chan AccountEvent
}

// Subscribe returns a channel of account events and a cancel func that
// closes it. Slow subscribers miss events rather than block the provider.
func (b *Broadcaster) Subscribe() (<-chan AccountEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]chan AccountEvent)
	}
	id := b.next
	b.next++
	ch := make(chan AccountEvent, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish records account as current and notifies subscribers when it changed.
func (b *Broadcaster) Publish(account string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if account == b.current {
		return
	}
	b.current = account
	for _, ch := range b.subs {
		select {
		case ch <- AccountEvent{Account: account}:
		default:
		}
	}
}

func (b *Broadcaster) CurrentAccount() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}
