// Package matrixclient adapts the driver's MatrixClient collaborator
// contract (spec.md §4.6) onto maunium.net/go/mautrix, the real Matrix
// client library.
package matrixclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/matrix-org/widget-driver/common/redact"
	"github.com/matrix-org/widget-driver/common/retry"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/protocol"
)

// rpcRetry bounds the retry budget for a single widget-triggered Matrix RPC.
// Three attempts keeps the widget's request/response round-trip bounded well
// under PendingRegistry's default 30s timeout even at the max backoff.
// shouldRetryMatrixError retries rate limiting (429), server errors (5xx)
// and responses with no status code; any other homeserver rejection, such
// as 403 or 404, is returned at once (spec.md §7's retriable-failure table).
// A plain transport-level error (no HTTPError at all, e.g. a dropped
// connection) is also retried, since that's exactly the M_TRANSPORT_ERROR
// case the table calls out.
var rpcRetry = retry.Config{
	MaxAttempts:  3,
	InitialDelay: 250 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	ShouldRetry:  shouldRetryMatrixError,
}

func shouldRetryMatrixError(err error) bool {
	var httpErr mautrix.HTTPError
	if !errors.As(err, &httpErr) {
		return true
	}
	return httpErr.Code == 0 || httpErr.Code == http.StatusTooManyRequests || httpErr.Code >= 500
}

// Config holds the homeserver connection details for one widget session's
// underlying Matrix client.
type Config struct {
	Homeserver  string
	UserID      string
	DeviceID    string
	AccessToken string
}

// Client wraps a mautrix.Client and exposes the narrow MatrixClient surface
// the orchestrator needs (spec.md §4.6), translating mautrix's richer API
// into the event/request shapes the reducer produces actions for.
type Client struct {
	client      *mautrix.Client
	userID      string
	deviceID    string
	accessToken string
}

// New creates a Client bound to a single widget session's Matrix identity.
func New(cfg Config) (*Client, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrixclient: failed to create client: %w", err)
	}
	return &Client{client: client, userID: cfg.UserID, deviceID: cfg.DeviceID, accessToken: cfg.AccessToken}, nil
}

// wrapErr prefixes err with op, stripping the session's access token from the
// message first. Some homeserver error bodies echo back the request URL,
// which on older server versions may carry the token as a query parameter.
func (c *Client) wrapErr(op string, err error) error {
	return fmt.Errorf("matrixclient: %s: %s", op, redact.String(err.Error(), c.accessToken))
}

// SendEvent sends a room or state event and returns its event ID, retrying
// transient homeserver errors a bounded number of times before giving up.
func (c *Client) SendEvent(ctx context.Context, roomID, eventType string, stateKey *string, content map[string]any) (string, error) {
	evtType := event.Type{Type: eventType, Class: event.MessageEventType}
	if stateKey != nil {
		evtType.Class = event.StateEventType
	}

	var eventID string
	err := retry.Do(ctx, rpcRetry, func() error {
		if stateKey != nil {
			resp, err := c.client.SendStateEvent(ctx, id.RoomID(roomID), evtType, *stateKey, content)
			if err != nil {
				return err
			}
			eventID = resp.EventID.String()
			return nil
		}
		resp, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), evtType, content)
		if err != nil {
			return err
		}
		eventID = resp.EventID.String()
		return nil
	})
	if err != nil {
		return "", c.wrapErr("send event", err)
	}
	return eventID, nil
}

// SendToDevice delivers a to-device message fan-out.
func (c *Client) SendToDevice(ctx context.Context, eventType string, messages map[string]map[string]map[string]any) error {
	content := &mautrix.ReqSendToDevice{Messages: make(map[id.UserID]map[id.DeviceID]any, len(messages))}
	for userID, devices := range messages {
		perDevice := make(map[id.DeviceID]any, len(devices))
		for deviceID, payload := range devices {
			perDevice[id.DeviceID(deviceID)] = payload
		}
		content.Messages[id.UserID(userID)] = perDevice
	}

	txnID := mautrix.GenTransactionID()
	err := retry.Do(ctx, rpcRetry, func() error {
		_, err := c.client.SendToDevice(ctx, event.Type{Type: eventType, Class: event.ToDeviceEventType}, content, txnID)
		return err
	})
	if err != nil {
		return c.wrapErr("send to-device", err)
	}
	return nil
}

// ReadEvents reads recent timeline or state events matching the given type
// and (for state) state key.
func (c *Client) ReadEvents(ctx context.Context, roomID, eventType string, stateKey *string, limit int) ([]protocol.MatrixEvent, error) {
	if stateKey != nil {
		var content map[string]any
		err := retry.Do(ctx, rpcRetry, func() error {
			return c.client.StateEvent(ctx, id.RoomID(roomID), event.Type{Type: eventType, Class: event.StateEventType}, *stateKey, &content)
		})
		if err != nil {
			return nil, c.wrapErr("read state event", err)
		}
		return []protocol.MatrixEvent{{
			Type:     eventType,
			StateKey: stateKey,
			RoomID:   roomID,
			Content:  content,
		}}, nil
	}

	if limit <= 0 {
		limit = 10
	}
	var resp *mautrix.RespMessages
	err := retry.Do(ctx, rpcRetry, func() error {
		var rpcErr error
		resp, rpcErr = c.client.Messages(ctx, id.RoomID(roomID), "", "", mautrix.DirectionBackward, nil, limit)
		return rpcErr
	})
	if err != nil {
		return nil, c.wrapErr("read timeline events", err)
	}

	out := make([]protocol.MatrixEvent, 0, len(resp.Chunk))
	for _, evt := range resp.Chunk {
		if evt.Type.Type != eventType {
			continue
		}
		content := make(map[string]any)
		if raw, err := evt.Content.MarshalJSON(); err == nil {
			_ = json.Unmarshal(raw, &content)
		}
		out = append(out, protocol.MatrixEvent{
			Type:    evt.Type.Type,
			Sender:  evt.Sender.String(),
			RoomID:  evt.RoomID.String(),
			EventID: evt.ID.String(),
			Content: content,
		})
	}
	return out, nil
}

// RequestOpenIDToken requests a fresh OpenID token on the user's behalf
// (spec.md §4.6, backing the get_openid reducer action).
func (c *Client) RequestOpenIDToken(ctx context.Context, userID string) (protocol.OpenIDResponse, error) {
	var out protocol.OpenIDResponse
	err := retry.Do(ctx, rpcRetry, func() error {
		tok, err := c.client.RequestOpenIDToken(ctx)
		if err != nil {
			return err
		}
		out = protocol.OpenIDResponse{
			State:            "allowed",
			AccessToken:      tok.AccessToken,
			ExpiresIn:        int64(tok.ExpiresIn),
			MatrixServerName: tok.MatrixServerName,
			TokenType:        tok.TokenType,
		}
		return nil
	})
	if err != nil {
		return protocol.OpenIDResponse{}, c.wrapErr("request openid token", err)
	}
	return out, nil
}

// UpdateDelayedEvent updates, cancels, or sends a delayed event (MSC4157).
func (c *Client) UpdateDelayedEvent(ctx context.Context, delayID, action string) error {
	err := retry.Do(ctx, rpcRetry, func() error {
		_, err := c.client.UpdateDelayedEvent(ctx, &mautrix.ReqUpdateDelayedEvent{
			DelayID: delayID,
			Action:  action,
		})
		return err
	})
	if err != nil {
		return c.wrapErr("update delayed event", err)
	}
	return nil
}

// Subscribe starts the Matrix sync loop and returns a channel of events
// visible to roomID, with exponential back-off reconnection mirroring the
// orchestrator's single long-lived subscription per session.
func (c *Client) Subscribe(ctx context.Context, roomID string) (<-chan protocol.MatrixEvent, error) {
	out := make(chan protocol.MatrixEvent, 64)

	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return nil, fmt.Errorf("matrixclient: unexpected syncer type %T", c.client.Syncer)
	}

	syncer.OnEvent(func(ctx context.Context, evt *event.Event) {
		if evt.RoomID.String() != roomID {
			return
		}
		content := make(map[string]any)
		if raw, err := evt.Content.MarshalJSON(); err == nil {
			_ = json.Unmarshal(raw, &content)
		}
		me := protocol.MatrixEvent{
			Type:    evt.Type.Type,
			Sender:  evt.Sender.String(),
			RoomID:  evt.RoomID.String(),
			EventID: evt.ID.String(),
			Content: content,
		}
		if evt.StateKey != nil {
			me.StateKey = evt.StateKey
		}
		select {
		case out <- me:
		default:
			// Slow consumer: drop rather than block the sync loop.
		}
	})

	go c.runSyncWithBackoff(ctx)

	return out, nil
}

func (c *Client) runSyncWithBackoff(ctx context.Context) {
	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.client.Sync(); err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}
		return
	}
}

// Close stops the sync loop.
func (c *Client) Close() {
	c.client.StopSync()
}
