package game

import (
	"sync"
	"time"
)

// EventType names an externally observable state change.
type EventType string

const (
	// Lobby
	EventRoomJoined  EventType = "room-joined"
	EventPlayerLeft  EventType = "player-left"
	EventGameStarted EventType = "game-started"

	// Turn flow
	EventDiceRolled     EventType = "dice-rolled"
	EventPassedStart    EventType = "passed-start"
	EventSquareResolved EventType = "square-resolved"
	EventDecision       EventType = "decision-required"
	EventPhaseChanged   EventType = "phase-changed"
	EventTurnEnded      EventType = "turn-ended"
	EventSentToJail     EventType = "sent-to-jail"
	EventJailReleased   EventType = "jail-released"
	EventFestivalMoved  EventType = "festival-moved"

	// Money and property
	EventPropertyPurchased   EventType = "property-purchased"
	EventRentPaid            EventType = "rent-paid"
	EventTaxPaid             EventType = "tax-paid"
	EventDevelopmentBuilt    EventType = "development-built"
	EventDevelopmentSold     EventType = "development-sold"
	EventPropertyMortgaged   EventType = "property-mortgaged"
	EventPropertyUnmortgaged EventType = "property-unmortgaged"

	// Auctions
	EventAuctionStarted EventType = "auction-started"
	EventBidPlaced      EventType = "bid-placed"
	EventAuctionEnded   EventType = "auction-ended"

	// Trades
	EventTradeOffered   EventType = "trade-offered"
	EventTradeAccepted  EventType = "trade-accepted"
	EventTradeRejected  EventType = "trade-rejected"
	EventTradeCancelled EventType = "trade-cancelled"

	// Cards
	EventCardDrawn         EventType = "card-drawn"
	EventCardEffectApplied EventType = "card-effect-applied"

	// End of game
	EventBankruptcyDeclared EventType = "bankruptcy-declared"
	EventGameFinished       EventType = "game-finished"

	// EventSessionUpdated carries the full session after every commit.
	EventSessionUpdated EventType = "session-updated"
	// EventError is delivered only to the player whose action was refused.
	EventError EventType = "error"
)

// Event is published after the action that produced it commits.
// TargetPlayer set means the event is for that player only.
type Event struct {
	Type         EventType              `json:"type"`
	SessionID    string                 `json:"session_id"`
	PlayerID     string                 `json:"player_id,omitempty"`
	TargetPlayer string                 `json:"-"`
	Version      int64                  `json:"version"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Listener receives every published event.
type Listener func(Event)

type typedListener struct {
	handle   int
	callback func(Event)
}

// EventBus is a synchronous publish/subscribe hub.
type EventBus struct {
	mu             sync.RWMutex
	nextHandle     int
	listeners      map[int]Listener
	typedListeners map[EventType][]typedListener
}

func NewEventBus() *EventBus {
	return &EventBus{
		nextHandle:     1,
		listeners:      make(map[int]Listener),
		typedListeners: make(map[EventType][]typedListener),
	}
}

// Subscribe registers a listener for all events and returns a handle.
func (bus *EventBus) Subscribe(listener Listener) int {
	if listener == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	handle := bus.nextHandle
	bus.nextHandle++
	bus.listeners[handle] = listener
	return handle
}

// SubscribeTyped registers a listener for one event type.
func (bus *EventBus) SubscribeTyped(eventType EventType, callback func(Event)) int {
	if callback == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	handle := bus.nextHandle
	bus.nextHandle++
	bus.typedListeners[eventType] = append(bus.typedListeners[eventType], typedListener{handle: handle, callback: callback})
	return handle
}

// Unsubscribe removes the listener identified by handle.
func (bus *EventBus) Unsubscribe(handle int) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	delete(bus.listeners, handle)
	for eventType, listeners := range bus.typedListeners {
		for i := len(listeners) - 1; i >= 0; i-- {
			if listeners[i].handle == handle {
				bus.typedListeners[eventType] = append(listeners[:i], listeners[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers the event to all registered listeners synchronously.
func (bus *EventBus) Publish(event Event) {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	for _, listener := range bus.listeners {
		listener(event)
	}
	for _, listener := range bus.typedListeners[event.Type] {
		listener.callback(event)
	}
}

// PublishBatch publishes events in order.
func (bus *EventBus) PublishBatch(events []Event) {
	for _, event := range events {
		bus.Publish(event)
	}
}
