package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/optical_flow/internal/config"
	"github.com/relabs-tech/optical_flow/internal/logging"
	"github.com/relabs-tech/optical_flow/internal/telemetry"
)

// FlowHub keeps the latest telemetry per sensor and fans every message out
// to connected websocket clients.
type FlowHub struct {
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	latest  map[string]telemetry.FlowMessage
	clients map[chan []byte]struct{}
}

// NewFlowHub returns an empty hub.
func NewFlowHub(logger *zap.SugaredLogger) *FlowHub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FlowHub{
		logger:  logger,
		latest:  make(map[string]telemetry.FlowMessage),
		clients: make(map[chan []byte]struct{}),
	}
}

// Update ingests one TOPIC_FLOW payload.
func (h *FlowHub) Update(payload []byte) error {
	var m telemetry.FlowMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("flow payload: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest[m.SensorID] = m
	for ch := range h.clients {
		select {
		case ch <- payload:
		default:
			// slow client, it catches up with the next message
		}
	}
	return nil
}

// Latest returns the newest message of every sensor, sorted by id.
func (h *FlowHub) Latest() []telemetry.FlowMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]telemetry.FlowMessage, 0, len(h.latest))
	for _, m := range h.latest {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}

func (h *FlowHub) subscribe() chan []byte {
	ch := make(chan []byte, 16)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *FlowHub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// HandleAPI serves the latest messages as JSON.
func (h *FlowHub) HandleAPI(w http.ResponseWriter, r *http.Request) {
	latest := h.Latest()
	if len(latest) == 0 {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(latest); err != nil {
		h.logger.Warnf("web: json encode error: %v", err)
	}
}

// HandleWS streams every flow message to the client.
func (h *FlowHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	// reader goroutine only notices the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case payload := <-ch:
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

// Routes returns the web mux.
func (h *FlowHub) Routes(staticDir string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/flow", h.HandleAPI)
	mux.HandleFunc("/ws", h.HandleWS)
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

// RunWeb subscribes to flow telemetry and serves it over HTTP.
func RunWeb() error {
	cfg := config.Get()
	logger, flush := logging.MustNew("web", cfg.LogLevel, cfg.LogFile)
	defer flush()

	hub := NewFlowHub(logger)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	logger.Infof("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicFlow, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := hub.Update(msg.Payload()); err != nil {
			logger.Warnf("web: %v", err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	logger.Infof("web: subscribed to %s", cfg.TopicFlow)

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	logger.Infof("web: listening on %s", addr)
	return http.ListenAndServe(addr, hub.Routes("web"))
}
