package lmstudio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// namespaceConnection represents a connection to a single LM Studio websocket
// namespace. RPC responses are correlated by callId, channel messages are
// routed to the registered channel by channelId.
type namespaceConnection struct {
	logger         Logger
	namespace      string
	conn           *websocket.Conn
	nextID         int
	pendingCalls   map[int]chan json.RawMessage
	activeChannels map[int]chan json.RawMessage
	connected      bool
	mu             sync.Mutex
}

// connect establishes a connection to a specific LM Studio namespace and runs
// the authentication handshake.
func (nc *namespaceConnection) connect(apiHost string, parentCtx context.Context) error {

	var u url.URL
	if strings.HasPrefix(apiHost, "https://") {
		apiHost = strings.TrimPrefix(apiHost, "https://")
		u = url.URL{Scheme: "wss", Host: apiHost, Path: "/" + nc.namespace}
	} else if strings.HasPrefix(apiHost, "http://") {
		apiHost = strings.TrimPrefix(apiHost, "http://")
		u = url.URL{Scheme: "ws", Host: apiHost, Path: "/" + nc.namespace}
	} else {
		u = url.URL{Scheme: "ws", Host: apiHost, Path: "/" + nc.namespace}
	}

	var conn *websocket.Conn
	var err error

	for retry := 0; retry < MaxConnectionRetries; retry++ {
		if retry > 0 {
			nc.logger.Info("Connection attempt %d/%d after waiting %d seconds...",
				retry+1, MaxConnectionRetries, ConnectionRetryDelaySec)
			time.Sleep(ConnectionRetryDelaySec * time.Second)
		}

		nc.logger.Debug("Connecting to %s", u.String())

		dialer := &websocket.Dialer{HandshakeTimeout: 15 * time.Second}

		conn, _, err = dialer.Dial(u.String(), nil)
		if err == nil {
			break
		}

		nc.logger.Debug("Connection attempt failed: %v", err)
	}

	if err != nil {
		return fmt.Errorf("failed to connect to LM Studio after %d attempts: %w",
			MaxConnectionRetries, err)
	}

	nc.conn = conn

	// The server must answer the auth message promptly
	if err := conn.SetReadDeadline(time.Now().Add(15 * time.Second)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set read deadline: %w", err)
	}

	authMsg := map[string]interface{}{
		"authVersion":      1,
		"clientIdentifier": uuid.New().String(),
		"clientPasskey":    uuid.New().String(),
	}

	nc.logger.Debug("Sending authentication message to %s namespace", nc.namespace)
	if err := conn.WriteJSON(authMsg); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send authentication message: %w", err)
	}

	var authResponse map[string]interface{}
	if err := conn.ReadJSON(&authResponse); err != nil {
		conn.Close()
		return fmt.Errorf("authentication failed: %w", err)
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return fmt.Errorf("failed to reset read deadline: %w", err)
	}

	success, ok := authResponse["success"].(bool)
	if !ok || !success {
		conn.Close()
		errorMsg := "unknown error"
		if errDetails, ok := authResponse["error"]; ok {
			errorMsg = fmt.Sprintf("%v", errDetails)
		}
		return fmt.Errorf("authentication failed: %s", errorMsg)
	}

	nc.mu.Lock()
	nc.connected = true
	nc.mu.Unlock()

	go nc.handleMessages(parentCtx)

	nc.logger.Debug("Successfully connected and authenticated to %s namespace", nc.namespace)
	return nil
}

// isConnected returns whether the namespace connection is connected
func (nc *namespaceConnection) isConnected() bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.connected
}

// close closes the namespace connection
func (nc *namespaceConnection) close() error {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	if !nc.connected || nc.conn == nil {
		return nil
	}

	nc.connected = false

	// Bound the close handshake so shutdown never hangs on a dead peer
	_ = nc.conn.SetWriteDeadline(time.Now().Add(1 * time.Second))

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = nc.conn.WriteMessage(websocket.CloseMessage, closeMsg)

	time.Sleep(250 * time.Millisecond)

	return nc.conn.Close()
}

// handleMessages reads incoming websocket messages for the namespace and
// routes them to the pending RPC call or active channel they belong to.
func (nc *namespaceConnection) handleMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, message, err := nc.conn.ReadMessage()
			if err != nil {
				select {
				case <-ctx.Done():
					// Shutting down, nothing worth logging
				default:
					if !websocket.IsCloseError(err, websocket.CloseNormalClosure,
						websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
						!strings.Contains(err.Error(), "use of closed network connection") &&
						!strings.Contains(err.Error(), "websocket: close sent") {
						nc.logger.Error("Error reading message from %s: %v", nc.namespace, err)
					}
				}

				nc.mu.Lock()
				nc.connected = false
				nc.mu.Unlock()
				return
			}

			nc.logger.Trace("Received raw websocket message from %s: %s", nc.namespace, string(message))

			var msg map[string]interface{}
			if err := json.Unmarshal(message, &msg); err != nil {
				nc.logger.Error("Error parsing message from %s: %v", nc.namespace, err)
				continue
			}

			msgType, hasType := msg["type"].(string)
			if !hasType {
				nc.logger.Error("Message has no type field from %s", nc.namespace)
				continue
			}

			if msgType == "communicationWarning" {
				if warning, ok := msg["warning"].(string); ok {
					nc.logger.Warn("Communication issue from %s: %s", nc.namespace, warning)
				}
				continue
			}

			if msgType == "rpcResult" || msgType == "rpcError" {
				callID, ok := msg["callId"].(float64)
				if !ok {
					nc.logger.Error("RPC message missing callId from %s", nc.namespace)
					continue
				}

				nc.mu.Lock()
				ch, exists := nc.pendingCalls[int(callID)]
				if exists {
					delete(nc.pendingCalls, int(callID))
				}
				nc.mu.Unlock()

				if !exists {
					nc.logger.Error("Received response for unknown call ID %d from %s", int(callID), nc.namespace)
					continue
				}
				ch <- message
				continue
			}

			if strings.HasPrefix(msgType, "channel") {
				channelID, hasChannel := msg["channelId"].(float64)
				if !hasChannel {
					nc.logger.Error("Channel message missing channelId from %s: %s", nc.namespace, msgType)
					continue
				}

				nc.mu.Lock()
				ch, exists := nc.activeChannels[int(channelID)]
				nc.mu.Unlock()

				if !exists {
					nc.logger.Error("Received message for unknown channel %d from %s", int(channelID), nc.namespace)
					continue
				}

				select {
				case ch <- message:
					nc.logger.Trace("Routed %s message to channel %d", msgType, int(channelID))
				default:
					nc.logger.Error("Message buffer full for channel %d, dropping message", int(channelID))
				}
				continue
			}

			nc.logger.Trace("Ignoring message type '%s' from %s", msgType, nc.namespace)
		}
	}
}

// ensureConnected ensures the namespace connection is connected or returns an error
func (nc *namespaceConnection) ensureConnected() error {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	if !nc.connected || nc.conn == nil {
		return fmt.Errorf("not connected to %s namespace", nc.namespace)
	}
	return nil
}

// remoteCall makes a remote procedure call on the namespace and waits for the
// correlated response.
func (nc *namespaceConnection) remoteCall(endpoint string, params interface{}) (json.RawMessage, error) {
	if err := nc.ensureConnected(); err != nil {
		return nil, err
	}

	nc.mu.Lock()
	id := nc.nextID
	nc.nextID++
	ch := make(chan json.RawMessage, 1)
	nc.pendingCalls[id] = ch
	nc.mu.Unlock()

	rpcMsg := map[string]interface{}{
		"type":     "rpcCall",
		"endpoint": endpoint,
		"callId":   id,
	}
	if params != nil {
		rpcMsg["parameter"] = params
	}

	nc.logger.Debug("Sending RPC call %s to %s namespace (callId %d)", endpoint, nc.namespace, id)

	if err := nc.conn.WriteJSON(rpcMsg); err != nil {
		nc.mu.Lock()
		delete(nc.pendingCalls, id)
		nc.mu.Unlock()
		return nil, fmt.Errorf("failed to send RPC message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), LMStudioWsAPITimeoutSec*time.Second)
	defer cancel()

	select {
	case response := <-ch:
		nc.logger.Trace("Received RPC response from %s: %s", nc.namespace, string(response))

		var respMap map[string]interface{}
		if err := json.Unmarshal(response, &respMap); err != nil {
			return nil, fmt.Errorf("failed to parse RPC response: %w", err)
		}

		responseType, ok := respMap["type"].(string)
		if !ok {
			return nil, fmt.Errorf("missing response type")
		}

		if responseType == "rpcError" {
			return nil, fmt.Errorf("%s", rpcErrorMessage(respMap))
		}

		if responseType == "rpcResult" {
			if result, ok := respMap["result"]; ok {
				resultBytes, err := json.Marshal(result)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal result: %w", err)
				}
				return resultBytes, nil
			}
			// Empty result is valid for some operations
			return json.RawMessage("null"), nil
		}

		return nil, fmt.Errorf("unexpected response type: %s", responseType)

	case <-ctx.Done():
		nc.mu.Lock()
		delete(nc.pendingCalls, id)
		nc.mu.Unlock()
		return nil, errors.New("RPC call timed out")
	}
}

// openChannel registers a new channel and sends the channelCreate message for
// the given endpoint. The returned channel receives every message the server
// sends for that channelId.
func (nc *namespaceConnection) openChannel(endpoint string, creationParameter interface{}) (int, chan json.RawMessage, error) {
	if err := nc.ensureConnected(); err != nil {
		return 0, nil, err
	}

	nc.mu.Lock()
	id := nc.nextID
	nc.nextID++
	ch := make(chan json.RawMessage, 16)
	nc.activeChannels[id] = ch
	nc.mu.Unlock()

	createMsg := map[string]interface{}{
		"type":              "channelCreate",
		"channelId":         id,
		"endpoint":          endpoint,
		"creationParameter": creationParameter,
	}

	nc.logger.Debug("Creating %s channel %d on %s namespace", endpoint, id, nc.namespace)

	if err := nc.conn.WriteJSON(createMsg); err != nil {
		nc.mu.Lock()
		delete(nc.activeChannels, id)
		nc.mu.Unlock()
		return 0, nil, fmt.Errorf("failed to create %s channel: %w", endpoint, err)
	}

	return id, ch, nil
}

// closeChannel deregisters the channel and tells the server to close it.
func (nc *namespaceConnection) closeChannel(id int) {
	nc.mu.Lock()
	_, exists := nc.activeChannels[id]
	delete(nc.activeChannels, id)
	connected := nc.connected
	nc.mu.Unlock()

	if !exists || !connected {
		return
	}

	closeMsg := map[string]interface{}{
		"type":      "channelClose",
		"channelId": id,
	}
	if err := nc.conn.WriteJSON(closeMsg); err != nil {
		nc.logger.Debug("Failed to send channelClose for channel %d: %v", id, err)
	}
}

// rpcErrorMessage digs the most descriptive message out of an rpcError payload.
func rpcErrorMessage(respMap map[string]interface{}) string {
	errObj, ok := respMap["error"].(map[string]interface{})
	if !ok {
		return "malformed error response"
	}

	if title, ok := errObj["title"].(string); ok && title != "" {
		return title
	}
	if rootTitle, ok := errObj["rootTitle"].(string); ok && rootTitle != "" {
		return rootTitle
	}
	if msg, ok := errObj["message"].(string); ok && msg != "" {
		return msg
	}
	return "unknown RPC error"
}
