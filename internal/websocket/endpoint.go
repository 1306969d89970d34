package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ChannelsQueryParam lists channels to subscribe to on connect, comma separated.
const ChannelsQueryParam = "channels"

func newUpgrader(opts Options) websocket.Upgrader {
	allowAll := len(opts.AllowedOrigins) == 0
	allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: opts.HandshakeTimeout,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// Credential extracts the handshake token: the Authorization bearer header,
// or the access_token query parameter for browsers that cannot set headers.
func Credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("access_token")
}

// ServeWS authenticates, upgrades and registers a connection, then starts its
// read and write loops. Authentication and registration share one handshake
// deadline; a connection that misses it is dropped before registration.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, clientIP string) {
	if h.handshake != nil && !h.handshake.Allow(clientIP) {
		h.metrics.Rejected("handshake_rate")
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.HandshakeTimeout)
	defer cancel()

	userID, err := h.authenticate(ctx, Credential(r))
	if err != nil {
		h.metrics.Rejected("auth")
		h.logger.Debug().Err(err).Str("origin", clientIP).Msg("websocket authentication failed")
		http.Error(w, ErrAuthenticationFailure.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.Rejected("upgrade")
		h.logger.Debug().Err(err).Str("userID", userID).Msg("failed to upgrade websocket connection")
		return
	}

	c := newClient(h, conn, userID, clientIP, r.UserAgent())
	if err := h.admit(ctx, c, r.URL.Query().Get(ChannelsQueryParam)); err != nil {
		code, reason := websocket.CloseTryAgainLater, "handshake timeout"
		if errors.Is(err, ErrConnectionLimitExceeded) {
			code, reason = websocket.ClosePolicyViolation, "connection limit exceeded"
			h.metrics.Rejected("connection_limit")
		} else {
			h.metrics.Rejected("handshake_timeout")
		}
		c.logger.Info().Err(err).Msg("connection rejected")
		c.shutdown(code, reason)
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) authenticate(ctx context.Context, credential string) (string, error) {
	if h.auth == nil {
		return "", ErrAuthenticationFailure
	}
	if credential == "" {
		return "", errors.Join(ErrAuthenticationFailure, errors.New("missing credential"))
	}
	userID, err := h.auth.Verify(ctx, credential)
	if err != nil {
		return "", errors.Join(ErrAuthenticationFailure, err)
	}
	if userID == "" {
		return "", ErrAuthenticationFailure
	}
	return userID, nil
}

// admit queues the greeting, registers c (draining any buffered messages
// behind the greeting) and subscribes it to its private channel and any
// requested channels.
func (h *Hub) admit(ctx context.Context, c *Client, requested string) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrHandshakeTimeout, err)
	}
	c.Send(NewConnectMessage(c.id, c.userID, h.opts.HeartbeatInterval))
	if err := h.register(ctx, c); err != nil {
		return err
	}

	channels := []string{UserChannel(c.userID)}
	for _, ch := range strings.Split(requested, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			channels = append(channels, ch)
		}
	}
	for _, ch := range channels {
		if err := ValidateName(ch); err != nil {
			c.Send(NewErrorMessage(CodeInvalidMessage, err.Error(), ""))
			continue
		}
		if err := h.checkSubscribe(c, ch); err != nil {
			c.Send(NewErrorMessage(CodeForbidden, err.Error(), ""))
			continue
		}
		if _, err := h.broker.Subscribe(c.id, ch); err != nil {
			c.Send(NewErrorMessage(errorCode(err), err.Error(), ""))
			continue
		}
		c.Send(NewAckMessage(ch, ActionSubscribed, "", nil))
	}
	return nil
}
