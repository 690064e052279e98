package lmstudio

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// mockNativeService is an in-process stand-in for the LM Studio websocket
// API. It implements the auth handshake and the subset of endpoints the
// native client uses.
type mockNativeService struct {
	t      *testing.T
	logger Logger

	mu         sync.Mutex
	downloaded []DownloadedModel
	loaded     map[string]bool
}

// newMockNativeService starts a websocket test server backed by a fixed
// model catalog. "mock-model-7b" starts out loaded and "mock-model-broken"
// always fails to load.
func newMockNativeService(t *testing.T, logger Logger) (*mockNativeService, *httptest.Server) {
	t.Helper()

	svc := &mockNativeService{
		t:      t,
		logger: logger,
		downloaded: []DownloadedModel{
			{ModelKey: "mock-model-0.5b", Path: "/models/mock-model-0.5b.gguf", Type: "llm", Format: "gguf", SizeBytes: 397000000, MaxContextLength: 32768},
			{ModelKey: "mock-model-7b", Path: "/models/mock-model-7b.gguf", Type: "llm", Format: "gguf", SizeBytes: 4680000000, MaxContextLength: 32768},
			{ModelKey: "mock-model-broken", Path: "/models/mock-model-broken.gguf", Type: "llm", Format: "gguf", SizeBytes: 99000000000, MaxContextLength: 8192},
		},
		loaded: map[string]bool{"mock-model-7b": true},
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()
		svc.serve(conn)
	}))
	t.Cleanup(server.Close)

	return svc, server
}

func (s *mockNativeService) isLoaded(modelKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded[modelKey]
}

func (s *mockNativeService) serve(conn *websocket.Conn) {
	var authMsg map[string]interface{}
	if err := conn.ReadJSON(&authMsg); err != nil {
		s.t.Errorf("Failed to read auth message: %v", err)
		return
	}
	if err := conn.WriteJSON(map[string]interface{}{"success": true}); err != nil {
		s.t.Errorf("Failed to write auth response: %v", err)
		return
	}

	for {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			s.logger.Debug("Mock server: connection closed: %v", err)
			return
		}

		msgType, _ := msg["type"].(string)
		endpoint, _ := msg["endpoint"].(string)

		switch {
		case msgType == "rpcCall" && endpoint == ModelListDownloadedEndpoint:
			s.mu.Lock()
			models := make([]DownloadedModel, len(s.downloaded))
			copy(models, s.downloaded)
			s.mu.Unlock()

			s.writeJSON(conn, map[string]interface{}{
				"type":   "rpcResult",
				"callId": msg["callId"],
				"result": models,
			})

		case msgType == "rpcCall" && endpoint == ModelUnloadEndpoint:
			params, _ := msg["parameter"].(map[string]interface{})
			identifier, _ := params["identifier"].(string)

			s.mu.Lock()
			wasLoaded := s.loaded[identifier]
			delete(s.loaded, identifier)
			s.mu.Unlock()

			if !wasLoaded {
				s.writeJSON(conn, map[string]interface{}{
					"type":   "rpcError",
					"callId": msg["callId"],
					"error":  map[string]interface{}{"title": "Model is not loaded"},
				})
				continue
			}
			s.writeJSON(conn, map[string]interface{}{
				"type":   "rpcResult",
				"callId": msg["callId"],
			})

		case msgType == "channelCreate" && endpoint == ModelLoadEndpoint:
			s.serveLoad(conn, msg)

		case msgType == "channelClose":
			// Nothing to clean up

		default:
			s.logger.Debug("Mock server: unhandled message: %v", msg)
		}
	}
}

func (s *mockNativeService) serveLoad(conn *websocket.Conn, msg map[string]interface{}) {
	channelID, _ := msg["channelId"].(float64)
	params, _ := msg["creationParameter"].(map[string]interface{})
	modelKey, _ := params["modelKey"].(string)

	if modelKey == "mock-model-broken" {
		s.writeJSON(conn, map[string]interface{}{
			"type":      "channelError",
			"channelId": int(channelID),
			"content": map[string]interface{}{
				"error": map[string]interface{}{"title": "Insufficient memory to load model"},
			},
		})
		return
	}

	s.mu.Lock()
	known := false
	for _, model := range s.downloaded {
		if model.ModelKey == modelKey {
			known = true
			break
		}
	}
	if known {
		s.loaded[modelKey] = true
	}
	s.mu.Unlock()

	if !known {
		s.writeJSON(conn, map[string]interface{}{
			"type":      "channelError",
			"channelId": int(channelID),
			"content": map[string]interface{}{
				"error": map[string]interface{}{"title": "Model not found"},
			},
		})
		return
	}

	for _, progress := range []float64{0.25, 0.5, 0.75, 1.0} {
		s.writeJSON(conn, map[string]interface{}{
			"type":      "channelSend",
			"channelId": int(channelID),
			"message": map[string]interface{}{
				"type":     "progress",
				"progress": progress,
			},
		})
	}

	s.writeJSON(conn, map[string]interface{}{
		"type":      "channelSend",
		"channelId": int(channelID),
		"message": map[string]interface{}{
			"type": "success",
			"info": map[string]interface{}{"identifier": modelKey},
		},
	})
}

func (s *mockNativeService) writeJSON(conn *websocket.Conn, v interface{}) {
	if err := conn.WriteJSON(v); err != nil {
		s.t.Errorf("Mock server: failed to write message: %v", err)
	}
}
