package hub

import "github.com/ashureev/deskline/internal/domain"

// EventHandlers holds one optional callback per server event.
type EventHandlers struct {
	TicketCreated       func(domain.Ticket)
	TicketUpdated       func(domain.Ticket)
	TicketStatusChanged func(domain.TicketStatusChanged)
	TicketAssigned      func(domain.TicketAssigned)
	AgentConnected      func(domain.AgentPresence)
	AgentDisconnected   func(domain.AgentPresence)
	ReceiveMessage      func(domain.ReceiveMessage)
	AgentTyping         func(domain.AgentTyping)
	AgentJoined         func(domain.AgentRoomChange)
	AgentLeft           func(domain.AgentRoomChange)
	UpdateQueue         func(domain.UpdateQueue)
}

// Subscribe adds h for event and returns its disposer. Any number of
// subscribers may listen to one event.
func (c *Client) Subscribe(event string, h Handler) (unsubscribe func()) {
	return c.registry.add(event, h)
}

// On subscribes a typed callback. The first invocation argument is
// decoded into T.
func On[T any](c *Client, event string, fn func(T)) (unsubscribe func()) {
	return c.registry.add(event, decodeFirst(c.logger, event, fn))
}

// UpdateEventHandler replaces the handler slot for event. Slots are
// separate from Subscribe subscriptions; a nil h empties the slot.
func (c *Client) UpdateEventHandler(event string, h Handler) {
	c.slotMu.Lock()
	defer c.slotMu.Unlock()

	if old := c.slots[event]; old != nil {
		old()
		delete(c.slots, event)
	}
	if h != nil {
		c.slots[event] = c.registry.add(event, h)
	}
}

// SetEventHandlers fills the slots for every non-nil callback in h.
// Slots whose callback is nil keep their current handler.
func (c *Client) SetEventHandlers(h EventHandlers) {
	setSlot(c, domain.EventTicketCreated, h.TicketCreated)
	setSlot(c, domain.EventTicketUpdated, h.TicketUpdated)
	setSlot(c, domain.EventTicketStatusChanged, h.TicketStatusChanged)
	setSlot(c, domain.EventTicketAssigned, h.TicketAssigned)
	setSlot(c, domain.EventAgentConnected, h.AgentConnected)
	setSlot(c, domain.EventAgentDisconnected, h.AgentDisconnected)
	setSlot(c, domain.EventReceiveMessage, h.ReceiveMessage)
	setSlot(c, domain.EventAgentTyping, h.AgentTyping)
	setSlot(c, domain.EventAgentJoined, h.AgentJoined)
	setSlot(c, domain.EventAgentLeft, h.AgentLeft)
	setSlot(c, domain.EventUpdateQueue, h.UpdateQueue)
}

func setSlot[T any](c *Client, event string, fn func(T)) {
	if fn == nil {
		return
	}
	c.UpdateEventHandler(event, decodeFirst(c.logger, event, fn))
}
