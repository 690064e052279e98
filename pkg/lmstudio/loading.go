package lmstudio

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// loadOutcome is the terminal result of a model load channel.
type loadOutcome struct {
	identifier string
	err        error
}

// loadChannel drives a loadModel channel until the server reports success or
// failure, forwarding progress updates along the way.
type loadChannel struct {
	conn         *namespaceConnection
	channelID    int
	modelKey     string
	progressFn   func(float64)
	messages     chan json.RawMessage
	outcome      chan loadOutcome
	quit         chan struct{}
	lastProgress float64
	closed       bool
	mu           sync.Mutex
}

// openLoadChannel starts loading the given model on the connection's
// namespace. The progress callback, if any, runs on the channel's own
// goroutine.
func openLoadChannel(conn *namespaceConnection, modelKey string, progressFn func(float64)) (*loadChannel, error) {
	creationParameter := map[string]interface{}{
		"modelKey":   modelKey,
		"identifier": modelKey,
		"loadConfigStack": map[string]interface{}{
			"layers": []interface{}{},
		},
	}

	id, messages, err := conn.openChannel(ModelLoadEndpoint, creationParameter)
	if err != nil {
		return nil, err
	}

	ch := &loadChannel{
		conn:         conn,
		channelID:    id,
		modelKey:     modelKey,
		progressFn:   progressFn,
		messages:     messages,
		outcome:      make(chan loadOutcome, 1),
		quit:         make(chan struct{}),
		lastProgress: -1,
	}

	go ch.run()

	return ch, nil
}

func (ch *loadChannel) run() {
	for {
		select {
		case <-ch.quit:
			return
		case raw := <-ch.messages:
			if ch.processMessage(raw) {
				return
			}
		}
	}
}

// processMessage handles one routed message and reports whether the load has
// reached a terminal state.
func (ch *loadChannel) processMessage(raw json.RawMessage) bool {
	var msg map[string]interface{}
	if err := json.Unmarshal(raw, &msg); err != nil {
		ch.conn.logger.Error("Error parsing message on channel %d: %v", ch.channelID, err)
		return false
	}

	msgType, _ := msg["type"].(string)

	switch msgType {
	case "channelSend":
		content, ok := msg["message"].(map[string]interface{})
		if !ok {
			ch.conn.logger.Error("Channel %d: channelSend missing message content", ch.channelID)
			return false
		}
		return ch.processUpdate(content)

	case "channelResolved":
		ch.conn.logger.Debug("Channel %d resolved", ch.channelID)
		return false

	case "channelError":
		ch.finish("", fmt.Errorf("model load failed: %s", channelErrorMessage(msg)))
		return true

	case "channelClose":
		ch.finish("", fmt.Errorf("channel closed before model %s finished loading", ch.modelKey))
		return true

	default:
		ch.conn.logger.Trace("Channel %d: ignoring message type '%s'", ch.channelID, msgType)
		return false
	}
}

// processUpdate handles the payload of a channelSend message.
func (ch *loadChannel) processUpdate(content map[string]interface{}) bool {
	contentType, _ := content["type"].(string)

	switch contentType {
	case "progress":
		if progress, ok := content["progress"].(float64); ok {
			ch.updateProgress(progress)
		}

	case "resolved":
		ch.conn.logger.Trace("Channel %d: model resolved", ch.channelID)

	case "success":
		identifier := ch.modelKey
		if info, ok := content["info"].(map[string]interface{}); ok {
			if id, ok := info["identifier"].(string); ok && id != "" {
				identifier = id
			}
		}
		ch.finish(identifier, nil)
		return true

	default:
		ch.conn.logger.Trace("Channel %d: ignoring '%s' update", ch.channelID, contentType)
	}

	return false
}

// updateProgress drops repeated or backwards progress updates.
func (ch *loadChannel) updateProgress(progress float64) {
	ch.mu.Lock()
	if progress <= ch.lastProgress {
		ch.mu.Unlock()
		return
	}
	ch.lastProgress = progress
	ch.mu.Unlock()

	if ch.progressFn != nil {
		ch.progressFn(progress)
	}
}

func (ch *loadChannel) progress() float64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.lastProgress
}

func (ch *loadChannel) finish(identifier string, err error) {
	ch.outcome <- loadOutcome{identifier: identifier, err: err}
}

// wait blocks until the load reaches a terminal state, the connection drops
// or the timeout expires.
func (ch *loadChannel) wait(timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case out := <-ch.outcome:
			return out.identifier, out.err

		case <-ticker.C:
			if !ch.conn.isConnected() {
				return "", fmt.Errorf("connection lost while waiting for model to load")
			}
			ch.conn.logger.Debug("Still loading %s... (%.1f%% done)", ch.modelKey, ch.progress()*100)

		case <-deadline.C:
			return "", fmt.Errorf("model load timed out after %v", timeout)
		}
	}
}

// close stops the message loop and deregisters the channel.
func (ch *loadChannel) close() {
	ch.mu.Lock()
	if !ch.closed {
		ch.closed = true
		close(ch.quit)
	}
	ch.mu.Unlock()

	ch.conn.closeChannel(ch.channelID)
}

// channelErrorMessage digs the most descriptive message out of a channelError payload.
func channelErrorMessage(msg map[string]interface{}) string {
	content, ok := msg["content"].(map[string]interface{})
	if !ok {
		return "unknown channel error"
	}
	errObj, ok := content["error"].(map[string]interface{})
	if !ok {
		return "unknown channel error"
	}
	if title, ok := errObj["title"].(string); ok && title != "" {
		return title
	}
	if rootTitle, ok := errObj["rootTitle"].(string); ok && rootTitle != "" {
		return rootTitle
	}
	return "unknown channel error"
}
