package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yegors/inbound-tracker/internal/websocket"
	"github.com/yegors/inbound-tracker/pkg/logger"
)

// DefaultPushInterval is how often subscribed queries are re-tracked
const DefaultPushInterval = 30 * time.Second

// ErrTooManySubscriptions is returned when a client exceeds its subscription limit
var ErrTooManySubscriptions = errors.New("too many subscriptions")

// WebSocketHandler turns subscribe messages into periodic track_update pushes
type WebSocketHandler struct {
	service      *Service
	pushInterval time.Duration
	maxSubs      int
	logger       *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	subs map[uint64]map[string]context.CancelFunc // client id -> subscription id -> cancel
}

// NewWebSocketHandler creates a new WebSocket message handler
func NewWebSocketHandler(service *Service, pushInterval time.Duration, maxSubs int, log *logger.Logger) *WebSocketHandler {
	if pushInterval <= 0 {
		pushInterval = DefaultPushInterval
	}
	if maxSubs <= 0 {
		maxSubs = 5
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketHandler{
		service:      service,
		pushInterval: pushInterval,
		maxSubs:      maxSubs,
		logger:       log.Named("tracker-ws-handler"),
		ctx:          ctx,
		cancel:       cancel,
		subs:         make(map[uint64]map[string]context.CancelFunc),
	}
}

// HandleMessage handles incoming WebSocket messages
func (h *WebSocketHandler) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	switch messageType {
	case websocket.MessageTypeSubscribe:
		return h.handleSubscribe(client, data)
	case websocket.MessageTypeUnsubscribe:
		return h.handleUnsubscribe(client, data)
	default:
		h.logger.Debug("Unhandled message type", logger.String("type", messageType))
		return nil
	}
}

// HandleDisconnect stops every subscription of a departed client
func (h *WebSocketHandler) HandleDisconnect(client *websocket.Client) {
	h.mu.Lock()
	subs := h.subs[client.ID()]
	delete(h.subs, client.ID())
	h.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
	if len(subs) > 0 {
		h.logger.Debug("Dropped subscriptions of disconnected client",
			logger.Int64("client_id", int64(client.ID())),
			logger.Int("count", len(subs)))
	}
}

// Stop cancels all subscriptions and waits for their loops to exit
func (h *WebSocketHandler) Stop() {
	h.cancel()
	h.wg.Wait()
}

// SubscriptionCount returns the number of active subscriptions across clients
func (h *WebSocketHandler) SubscriptionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, subs := range h.subs {
		n += len(subs)
	}
	return n
}

func (h *WebSocketHandler) handleSubscribe(client *websocket.Client, data map[string]any) error {
	q := queryFromMessage(data).Normalized()
	if err := q.Validate(); err != nil {
		return err
	}

	id := stringField(data, "id")
	if id == "" {
		id = q.CacheKey()
	}

	h.mu.Lock()
	subs := h.subs[client.ID()]
	if subs == nil {
		subs = make(map[string]context.CancelFunc)
		h.subs[client.ID()] = subs
	}
	if old, ok := subs[id]; ok {
		old()
	} else if len(subs) >= h.maxSubs {
		h.mu.Unlock()
		return fmt.Errorf("%w: limit is %d", ErrTooManySubscriptions, h.maxSubs)
	}
	ctx, cancel := context.WithCancel(h.ctx)
	subs[id] = cancel
	h.mu.Unlock()

	h.logger.Info("Client subscribed",
		logger.Int64("client_id", int64(client.ID())),
		logger.String("subscription", id),
		logger.Duration("interval", h.pushInterval))

	client.SendMessage(&websocket.Message{
		Type: websocket.MessageTypeSubscribed,
		Data: map[string]any{"id": id, "interval_seconds": int(h.pushInterval.Seconds())},
	})

	h.wg.Add(1)
	go h.run(ctx, client, id, q)
	return nil
}

func (h *WebSocketHandler) handleUnsubscribe(client *websocket.Client, data map[string]any) error {
	id := stringField(data, "id")
	if id == "" {
		id = queryFromMessage(data).Normalized().CacheKey()
	}

	h.mu.Lock()
	cancel, ok := h.subs[client.ID()][id]
	if ok {
		delete(h.subs[client.ID()], id)
	}
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("no subscription %q", id)
	}
	cancel()

	client.SendMessage(&websocket.Message{
		Type: websocket.MessageTypeUnsubscribed,
		Data: map[string]any{"id": id},
	})
	return nil
}

// run pushes a record immediately and then on every tick
func (h *WebSocketHandler) run(ctx context.Context, client *websocket.Client, id string, q Query) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.pushInterval)
	defer ticker.Stop()

	h.push(ctx, client, id, q)
	for {
		select {
		case <-ticker.C:
			h.push(ctx, client, id, q)
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		}
	}
}

func (h *WebSocketHandler) push(ctx context.Context, client *websocket.Client, id string, q Query) {
	rec := h.service.Track(ctx, q)
	if ctx.Err() != nil {
		return
	}

	sent := client.SendMessage(&websocket.Message{
		Type: websocket.MessageTypeTrackUpdate,
		Data: map[string]any{"id": id, "record": rec},
	})
	if !sent {
		h.logger.Warn("Client send channel full, dropping track update",
			logger.Int64("client_id", int64(client.ID())),
			logger.String("subscription", id))
	}
}

// queryFromMessage reads a tracking query from subscribe message data,
// using the same field names as the HTTP query string
func queryFromMessage(data map[string]any) Query {
	q := Query{
		TailNumber:   stringField(data, "tail_number"),
		FlightNumber: stringField(data, "flight_number"),
		Provider:     stringField(data, "provider"),
		Destination:  stringField(data, "destination"),
		Origin:       stringField(data, "origin"),
	}
	q.ScheduledDeparture, q.ScheduledArrival = ParseQueryTimes(
		stringField(data, "scheduled_dep"),
		stringField(data, "scheduled_arr"))
	return q
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
