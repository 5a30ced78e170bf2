package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"supportchat/backend/internal/metrics"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/rooms"
	"supportchat/backend/internal/storage"

	"go.uber.org/zap"
)

// Notifier is told about every newly waiting room.
type Notifier interface {
	RoomWaiting(ctx context.Context, room models.Room) error
}

// Controller drives the room lifecycle from connection events: it turns
// requests into registry operations and pushes the resulting state to the
// parties that need it.
type Controller struct {
	hub      *ManagerService
	registry *rooms.Registry
	listing  *PresenceService
	notifier Notifier
	metrics  *metrics.Metrics

	publishTimeout time.Duration
}

type ControllerOption func(*Controller)

func WithNotifier(n Notifier) ControllerOption {
	return func(c *Controller) { c.notifier = n }
}

func WithMetrics(m *metrics.Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

func NewController(hub *ManagerService, registry *rooms.Registry, listing *PresenceService, opts ...ControllerOption) *Controller {
	c := &Controller{
		hub:            hub,
		registry:       registry,
		listing:        listing,
		publishTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	hub.SetRoomSyncer(registry)
	return c
}

// Connect registers an authenticated client. A shopper coming back to an
// active room is announced to its admin.
func (c *Controller) Connect(cl Client) {
	c.hub.Register(cl)
	if p := cl.Participant(); p.Role == models.RoleShopper {
		c.announceShopper(p.ID, models.EventUserOnline)
	}
}

// Disconnect drops the client. Rooms are never closed by a disconnect.
func (c *Controller) Disconnect(cl Client) {
	if !c.hub.Unregister(cl) {
		return
	}
	if p := cl.Participant(); p.Role == models.RoleShopper {
		c.announceShopper(p.ID, models.EventUserOffline)
	}
}

func (c *Controller) announceShopper(shopperID, event string) {
	room, ok := c.registry.RoomForShopper(shopperID)
	if !ok || room.State != models.RoomActive || room.Admin == nil {
		return
	}
	c.push(Delivery{UserIDs: []string{room.Admin.ID}}, event, models.RoomIDPayload{RoomID: room.RoomID})
}

// Dispatch executes one request frame and returns its ack. Operation errors
// become error acks; the connection stays open.
func (c *Controller) Dispatch(ctx context.Context, cl Client, req models.Envelope) models.Envelope {
	p := cl.Participant()
	data, err := c.handle(ctx, p, req)
	if err != nil {
		code := rooms.Code(err)
		zap.S().Warnw("request failed",
			"user_id", p.ID, "event", req.Event, "code", code, "error", err)
		return ErrorAck(req.Ack, code, rooms.PublicMessage(err))
	}
	return Ack(req.Ack, data)
}

var adminEvents = map[string]bool{
	models.EventShowRooms:         true,
	models.EventShowAdminRooms:    true,
	models.EventShowFinishedRooms: true,
	models.EventJoinRoom:          true,
	models.EventFinishRoom:        true,
}

func (c *Controller) handle(ctx context.Context, p models.Participant, req models.Envelope) (any, error) {
	switch req.Event {
	case models.EventEnterRoom:
		if err := requireRole(p, models.RoleShopper, req.Event); err != nil {
			return nil, err
		}
		return c.enterRoom(ctx, p, req.Data)
	case models.EventSendMessage:
		return c.sendMessage(ctx, p, req.Data)
	}

	if !adminEvents[req.Event] {
		return nil, fmt.Errorf("unknown event %q: %w", req.Event, rooms.ErrInvalidRequest)
	}
	if err := requireRole(p, models.RoleAdmin, req.Event); err != nil {
		return nil, err
	}
	switch req.Event {
	case models.EventShowRooms:
		return c.showRooms(p, req.Data)
	case models.EventShowAdminRooms:
		return c.showAdminRooms(p, req.Data)
	case models.EventShowFinishedRooms:
		return c.showFinishedRooms(ctx, req.Data)
	case models.EventJoinRoom:
		return c.joinRoom(ctx, p, req.Data)
	default:
		return c.finishRoom(ctx, p, req.Data)
	}
}

func (c *Controller) enterRoom(ctx context.Context, p models.Participant, raw json.RawMessage) (any, error) {
	var body models.EnterRoomRequest
	if err := decode(raw, &body); err != nil {
		return nil, err
	}
	if err := checkSelf(p, body.UserID); err != nil {
		return nil, err
	}

	room, created, err := c.registry.FindOrCreateRoomForShopper(ctx, p)
	if err != nil {
		c.countFailure(err)
		return nil, err
	}
	if created {
		zap.S().Infow("room waiting", "room_id", room.RoomID, "user_id", p.ID)
		c.push(Delivery{Admins: true, RoomID: room.RoomID}, models.EventUserEntered, models.RoomPayload{Room: room.Summary()})
		c.notifyWaiting(room)
	}

	msgs := room.Messages
	if msgs == nil {
		msgs = []models.Message{}
	}
	return models.EnterRoomResponse{RoomID: room.RoomID, State: room.State, Messages: msgs}, nil
}

func (c *Controller) sendMessage(ctx context.Context, p models.Participant, raw json.RawMessage) (any, error) {
	var body models.SendMessageRequest
	if err := decode(raw, &body); err != nil {
		return nil, err
	}
	if err := checkSelf(p, body.ID); err != nil {
		return nil, err
	}
	if body.RoomID == "" {
		return nil, fmt.Errorf("roomId is required: %w", rooms.ErrInvalidRequest)
	}

	msg, err := c.registry.AppendMessage(ctx, body.RoomID, p, body.Message, func(room models.Room, msg models.Message) {
		if to := counterpart(room, p.ID); to != "" {
			c.push(Delivery{UserIDs: []string{to}, RoomID: room.RoomID}, models.EventReceiveMessage, models.NewMessagePayload{NewMessage: msg})
		}
	})
	if err != nil {
		c.countFailure(err)
		return nil, err
	}
	c.metrics.MessageStored()
	return models.NewMessagePayload{NewMessage: msg}, nil
}

func (c *Controller) showRooms(p models.Participant, raw json.RawMessage) (any, error) {
	var body models.AdminRequest
	if err := decode(raw, &body); err != nil {
		return nil, err
	}
	if err := checkSelf(p, body.AdminID); err != nil {
		return nil, err
	}
	return models.RoomsPayload{Rooms: c.listing.WaitingRooms()}, nil
}

func (c *Controller) showAdminRooms(p models.Participant, raw json.RawMessage) (any, error) {
	var body models.AdminRequest
	if err := decode(raw, &body); err != nil {
		return nil, err
	}
	if err := checkSelf(p, body.AdminID); err != nil {
		return nil, err
	}
	return models.RoomsPayload{Rooms: c.listing.MyActiveRooms(p.ID)}, nil
}

func (c *Controller) showFinishedRooms(ctx context.Context, raw json.RawMessage) (any, error) {
	var body models.PageRequest
	if err := decode(raw, &body); err != nil {
		return nil, err
	}
	list, err := c.listing.FinishedRooms(ctx, storage.Page{Page: body.Page, PageSize: body.PageSize})
	if err != nil {
		return nil, fmt.Errorf("list finished rooms: %v: %w", err, rooms.ErrPersistence)
	}
	return models.RoomsPayload{Rooms: list}, nil
}

func (c *Controller) joinRoom(ctx context.Context, p models.Participant, raw json.RawMessage) (any, error) {
	var body models.JoinRoomRequest
	if err := decode(raw, &body); err != nil {
		return nil, err
	}
	if err := checkSelf(p, body.AdminID); err != nil {
		return nil, err
	}
	if body.RoomID == "" {
		return nil, fmt.Errorf("roomId is required: %w", rooms.ErrInvalidRequest)
	}

	resumed := c.listing.Owns(p.ID, body.RoomID)
	room, err := c.registry.Claim(ctx, body.RoomID, p)
	if err != nil {
		if errors.Is(err, rooms.ErrAlreadyClaimed) {
			c.metrics.ClaimConflict()
		}
		c.countFailure(err)
		return nil, err
	}
	if !resumed {
		zap.S().Infow("room claimed", "room_id", room.RoomID, "admin_id", p.ID)
		c.push(Delivery{UserIDs: []string{room.Shopper.ID}, Admins: true, RoomID: room.RoomID},
			models.EventRoomClaimed, models.RoomIDPayload{RoomID: room.RoomID, AdminID: p.ID})
	}
	return models.RoomPayload{Room: room}, nil
}

func (c *Controller) finishRoom(ctx context.Context, p models.Participant, raw json.RawMessage) (any, error) {
	var body models.FinishRoomRequest
	if err := decode(raw, &body); err != nil {
		return nil, err
	}
	if body.RoomID == "" {
		return nil, fmt.Errorf("roomId is required: %w", rooms.ErrInvalidRequest)
	}

	room, err := c.registry.Get(ctx, body.RoomID)
	if err != nil {
		c.countFailure(err)
		return nil, err
	}
	if room.State != models.RoomActive {
		return nil, fmt.Errorf("room %s is %s: %w", room.RoomID, room.State, rooms.ErrInvalidState)
	}
	if room.Admin == nil || room.Admin.ID != p.ID {
		return nil, fmt.Errorf("%s does not own room %s: %w", p.ID, room.RoomID, rooms.ErrUnauthorized)
	}

	if err := c.finish(ctx, body.RoomID); err != nil {
		return nil, err
	}
	return models.RoomIDPayload{RoomID: body.RoomID}, nil
}

func (c *Controller) finish(ctx context.Context, roomID string) error {
	room, err := c.registry.Finish(ctx, roomID)
	if err != nil {
		c.countFailure(err)
		return err
	}
	zap.S().Infow("room finished", "room_id", room.RoomID)
	c.push(Delivery{UserIDs: []string{room.Shopper.ID}, Admins: true, RoomID: room.RoomID},
		models.EventRoomFinished, models.RoomIDPayload{RoomID: room.RoomID})
	return nil
}

// FinishIdle finishes every active room untouched since cutoff and returns
// how many it closed.
func (c *Controller) FinishIdle(ctx context.Context, cutoff time.Time) int {
	n := 0
	for _, room := range c.registry.IdleActiveRooms(cutoff) {
		if err := c.finish(ctx, room.RoomID); err != nil {
			if !errors.Is(err, rooms.ErrInvalidState) {
				zap.S().Errorw("failed to finish idle room", "room_id", room.RoomID, "error", err)
			}
			continue
		}
		n++
	}
	return n
}

func (c *Controller) push(d Delivery, event string, data any) {
	env, err := models.NewEnvelope(event, data)
	if err != nil {
		zap.S().Errorw("failed to encode push", "event", event, "error", err)
		return
	}
	d.Envelope = env

	ctx, cancel := context.WithTimeout(context.Background(), c.publishTimeout)
	defer cancel()
	if err := c.hub.Publish(ctx, d); err != nil {
		zap.S().Errorw("failed to publish push", "event", event, "user_ids", d.UserIDs, "error", err)
	}
}

func (c *Controller) notifyWaiting(room models.Room) {
	if c.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.notifier.RoomWaiting(ctx, room.Summary()); err != nil {
			zap.S().Warnw("failed to notify about waiting room", "room_id", room.RoomID, "error", err)
		}
	}()
}

func (c *Controller) countFailure(err error) {
	if errors.Is(err, rooms.ErrPersistence) {
		c.metrics.PersistFailure()
	}
}

// counterpart is the other member of the room, or "" while nobody else is in it.
func counterpart(room models.Room, senderID string) string {
	if room.Shopper.ID != senderID {
		return room.Shopper.ID
	}
	if room.Admin != nil {
		return room.Admin.ID
	}
	return ""
}

func requireRole(p models.Participant, role models.Role, event string) error {
	if p.Role != role {
		return fmt.Errorf("%s may not send %s: %w", p.Role, event, rooms.ErrUnauthorized)
	}
	return nil
}

// checkSelf rejects payload ids that contradict the authenticated identity.
func checkSelf(p models.Participant, claimed string) error {
	if claimed != "" && claimed != p.ID {
		return fmt.Errorf("payload id %s does not match %s: %w", claimed, p.ID, rooms.ErrUnauthorized)
	}
	return nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%v: %w", err, rooms.ErrInvalidRequest)
	}
	return nil
}

// Ack builds the success response to request id.
func Ack(id uint64, data any) models.Envelope {
	raw, err := json.Marshal(data)
	if err != nil {
		return ErrorAck(id, rooms.CodeInternal, "failed to encode response")
	}
	return models.Envelope{Event: models.EventAck, Ack: id, Data: raw}
}

// ErrorAck builds the failure response to request id.
func ErrorAck(id uint64, code, message string) models.Envelope {
	return models.Envelope{
		Event: models.EventAck,
		Ack:   id,
		Error: &models.WireError{Code: code, Message: message},
	}
}
