package collector

import "github.com/sipeed/msgcollector/pkg/domain"

// Collection is an id-keyed set of messages that remembers first insertion
// order. Re-adding an id replaces the stored message but keeps its position.
type Collection struct {
	order []string
	items map[string]domain.Message
}

func newCollection() *Collection {
	return &Collection{items: make(map[string]domain.Message)}
}

func (c *Collection) set(msg domain.Message) {
	if _, ok := c.items[msg.ID]; !ok {
		c.order = append(c.order, msg.ID)
	}
	c.items[msg.ID] = msg
}

func (c *Collection) clone() *Collection {
	out := &Collection{
		order: make([]string, len(c.order)),
		items: make(map[string]domain.Message, len(c.items)),
	}
	copy(out.order, c.order)
	for k, v := range c.items {
		out.items[k] = v
	}
	return out
}

// Len returns the number of distinct message ids.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}

// Get returns the message stored under id.
func (c *Collection) Get(id string) (domain.Message, bool) {
	if c == nil {
		return domain.Message{}, false
	}
	m, ok := c.items[id]
	return m, ok
}

// Has reports whether id is present.
func (c *Collection) Has(id string) bool {
	_, ok := c.Get(id)
	return ok
}

// IDs returns the ids in insertion order.
func (c *Collection) IDs() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Messages returns the messages in insertion order.
func (c *Collection) Messages() []domain.Message {
	if c == nil {
		return nil
	}
	out := make([]domain.Message, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// Each calls fn for every message in insertion order until fn returns false.
func (c *Collection) Each(fn func(domain.Message) bool) {
	if c == nil {
		return
	}
	for _, id := range c.order {
		if !fn(c.items[id]) {
			return
		}
	}
}
