package cache

// subscription is a single subscriber's bounded mailbox. It holds at
// most one pending ChangeEvent: if a new event arrives before the
// subscriber has drained the previous one, the new event replaces it.
// This is the "latest wins" collapsing rule from spec §4.1: a slow
// subscriber always converges to the current state and never observes
// a stale intermediate state after a drop. It is grounded on
// internal/xds/v3/contour.go's xds.Resource.Register(ch chan int, last
// int, ...) pattern, generalized from a single version int to a full
// ChangeEvent.
type subscription struct {
	ch     chan ChangeEvent
	cancel func()
}

// Subscription is the handle returned to callers of Subscribe.
type Subscription struct {
	Events <-chan ChangeEvent
	cancel func()
}

// Close stops delivery and releases the subscription's slot.
func (s *Subscription) Close() {
	s.cancel()
}

// Subscribe registers interest in future change events. Events are
// totally ordered by GlobalVersion, per subscriber.
func (c *Cache) Subscribe() *Subscription {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	ch := make(chan ChangeEvent, 1)
	sub := &subscription{ch: ch}
	c.subs[id] = sub
	c.subMu.Unlock()

	sub.cancel = func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}

	return &Subscription{Events: ch, cancel: sub.cancel}
}

func (c *Cache) publish(ev ChangeEvent) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, sub := range c.subs {
		select {
		case sub.ch <- ev:
		default:
			// mailbox full: drain the stale event and replace it with
			// the latest one. The channel has capacity 1 so at most one
			// stale event can be sitting there.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}
