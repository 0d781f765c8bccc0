// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/optical_flow/internal/config"
	"github.com/relabs-tech/optical_flow/internal/flow"
	"github.com/relabs-tech/optical_flow/internal/logging"
	"github.com/relabs-tech/optical_flow/internal/sensors"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local bench tool
	},
}

// RegisterCmd is any request sent by the register debug page.
type RegisterCmd struct {
	Action  string `json:"action"` // "get_map", "read", "read_all", "write", "init", "export_config"
	Address string `json:"addr,omitempty"`
	Value   string `json:"value,omitempty"`
}

// RegisterResponse is any reply sent to the register debug page.
type RegisterResponse struct {
	Type        string                 `json:"type"` // "register_data", "register_map", "status", "export_config", "error"
	Device      string                 `json:"device,omitempty"`
	Address     string                 `json:"addr,omitempty"`
	Value       string                 `json:"value,omitempty"`
	Registers   map[string]string      `json:"registers,omitempty"` // for bulk read
	Timestamp   string                 `json:"timestamp,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Status      string                 `json:"status,omitempty"`
	RegisterMap []sensors.RegisterInfo `json:"register_map,omitempty"`
	Config      string                 `json:"config,omitempty"`
	Filename    string                 `json:"filename,omitempty"`
}

// RegisterConfigFile is the JSON written by export_config.
type RegisterConfigFile struct {
	Version   int               `json:"version"`
	Device    string            `json:"device"`
	Timestamp string            `json:"timestamp"`
	Registers map[string]string `json:"registers"` // hex address -> hex value
}

// RegisterDebug serves register access to one flow backend over a
// websocket. Only one client talks to the chip at a time.
type RegisterDebug struct {
	backend  flow.Backend
	regMap   []sensors.RegisterInfo
	dump     []byte
	writable map[byte]bool
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu sync.Mutex
}

// NewRegisterDebug wraps backend, which must already be initialised.
func NewRegisterDebug(backend flow.Backend, logger *zap.SugaredLogger) *RegisterDebug {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	d := &RegisterDebug{
		backend:  backend,
		regMap:   sensors.ADNS3080RegisterMap(),
		dump:     sensors.ADNS3080DumpAddresses,
		writable: make(map[byte]bool),
		logger:   logger,
		now:      time.Now,
	}
	for _, r := range d.regMap {
		if strings.Contains(r.Access, "W") {
			if addr, err := parseHexByte(r.Address); err == nil {
				d.writable[addr] = true
			}
		}
	}
	return d
}

func parseHexByte(s string) (byte, error) {
	var b byte
	if _, err := fmt.Sscanf(strings.ToUpper(s), "0X%X", &b); err != nil {
		return 0, fmt.Errorf("invalid hex byte %q", s)
	}
	return b, nil
}

func hexByte(b byte) string { return fmt.Sprintf("0x%02X", b) }

// HandleWS handles the websocket connection for register debugging.
func (d *RegisterDebug) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Warnf("register_debug: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	// Send register map on connection
	if err := conn.WriteJSON(d.registerMap()); err != nil {
		d.logger.Warnf("register_debug: error sending register map: %v", err)
		return
	}

	for {
		var cmd RegisterCmd
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				d.logger.Warnf("register_debug: websocket error: %v", err)
			}
			return
		}
		if err := conn.WriteJSON(d.Handle(cmd)); err != nil {
			d.logger.Warnf("register_debug: write error: %v", err)
			return
		}
	}
}

// Handle executes one command against the backend.
func (d *RegisterDebug) Handle(cmd RegisterCmd) RegisterResponse {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch cmd.Action {
	case "get_map":
		return d.registerMap()
	case "read":
		return d.handleRead(cmd)
	case "read_all":
		return d.handleReadAll()
	case "write":
		return d.handleWrite(cmd)
	case "init":
		return d.handleInit()
	case "export_config":
		return d.handleExportConfig()
	case "":
		return errorResponse("missing or invalid action field")
	default:
		return errorResponse(fmt.Sprintf("unknown action: %s", cmd.Action))
	}
}

func errorResponse(message string) RegisterResponse {
	return RegisterResponse{Type: "error", Message: message}
}

func (d *RegisterDebug) registerMap() RegisterResponse {
	return RegisterResponse{
		Type:        "register_map",
		Device:      d.backend.Model(),
		RegisterMap: d.regMap,
	}
}

func (d *RegisterDebug) handleRead(cmd RegisterCmd) RegisterResponse {
	if cmd.Address == "" {
		return errorResponse("missing addr field")
	}
	addr, err := parseHexByte(cmd.Address)
	if err != nil {
		return errorResponse(fmt.Sprintf("invalid address format: %s", cmd.Address))
	}
	value, err := d.backend.ReadRegister(addr)
	if err != nil {
		return errorResponse(fmt.Sprintf("read error: %v", err))
	}
	return RegisterResponse{
		Type:      "register_data",
		Device:    d.backend.Model(),
		Address:   hexByte(addr),
		Value:     hexByte(value),
		Timestamp: d.now().Format(time.RFC3339),
	}
}

func (d *RegisterDebug) readAll() (map[string]string, error) {
	regs := make(map[string]string, len(d.dump))
	for _, addr := range d.dump {
		v, err := d.backend.ReadRegister(addr)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", hexByte(addr), err)
		}
		regs[hexByte(addr)] = hexByte(v)
	}
	return regs, nil
}

func (d *RegisterDebug) handleReadAll() RegisterResponse {
	regs, err := d.readAll()
	if err != nil {
		return errorResponse(fmt.Sprintf("read all error: %v", err))
	}
	return RegisterResponse{
		Type:      "register_data",
		Device:    d.backend.Model(),
		Registers: regs,
		Timestamp: d.now().Format(time.RFC3339),
	}
}

func (d *RegisterDebug) handleWrite(cmd RegisterCmd) RegisterResponse {
	if cmd.Address == "" || cmd.Value == "" {
		return errorResponse("missing addr or value field")
	}
	addr, err := parseHexByte(cmd.Address)
	if err != nil {
		return errorResponse(fmt.Sprintf("invalid address format: %s", cmd.Address))
	}
	value, err := parseHexByte(cmd.Value)
	if err != nil {
		return errorResponse(fmt.Sprintf("invalid value format: %s", cmd.Value))
	}
	if !d.writable[addr] {
		return errorResponse(fmt.Sprintf("register %s is read-only", hexByte(addr)))
	}
	if err := d.backend.WriteRegister(addr, value); err != nil {
		return errorResponse(fmt.Sprintf("write error: %v", err))
	}
	d.logger.Infof("register_debug: wrote %s = %s", hexByte(addr), hexByte(value))
	return RegisterResponse{
		Type:      "register_data",
		Device:    d.backend.Model(),
		Address:   hexByte(addr),
		Value:     hexByte(value),
		Timestamp: d.now().Format(time.RFC3339),
		Message:   "write successful",
	}
}

func (d *RegisterDebug) handleInit() RegisterResponse {
	if err := d.backend.Init(flow.InitOptions{}); err != nil {
		return errorResponse(fmt.Sprintf("reinit error: %v", err))
	}
	return RegisterResponse{
		Type:    "status",
		Device:  d.backend.Model(),
		Status:  "initialized",
		Message: "sensor reinitialized successfully",
	}
}

func (d *RegisterDebug) handleExportConfig() RegisterResponse {
	regs, err := d.readAll()
	if err != nil {
		return errorResponse(fmt.Sprintf("export error: %v", err))
	}
	now := d.now()
	configJSON, err := json.Marshal(RegisterConfigFile{
		Version:   1,
		Device:    d.backend.Model(),
		Timestamp: now.Format(time.RFC3339),
		Registers: regs,
	})
	if err != nil {
		return errorResponse(fmt.Sprintf("export error: %v", err))
	}
	return RegisterResponse{
		Type:     "export_config",
		Device:   d.backend.Model(),
		Message:  "config exported",
		Config:   string(configJSON),
		Filename: fmt.Sprintf("%s_%s_registers.json", d.backend.Model(), now.Format("20060102_150405")),
	}
}

// HandleMotion serves one motion read as JSON. Reading consumes the
// chip's accumulated deltas, so do not run it beside the producer.
func (d *RegisterDebug) HandleMotion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	d.mu.Lock()
	s, ok, err := d.backend.ReadMotion(d.now())
	d.mu.Unlock()

	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "bus busy"})
		return
	}
	json.NewEncoder(w).Encode(struct {
		flow.RawSample
		LowConfidence bool `json:"low_confidence"`
	}{s, s.LowConfidence()})
}

// Routes returns the register debug mux.
func (d *RegisterDebug) Routes(page string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", d.HandleWS)
	mux.HandleFunc("/api/motion", d.HandleMotion)
	if page != "" {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, page)
		})
	}
	return mux
}

// RunRegisterDebug opens the configured flow sensor and serves the register
// debug tool. It must not run while the producer owns the sensor.
func RunRegisterDebug() error {
	cfg := config.Get()
	logger, flush := logging.MustNew("register_debug", cfg.LogLevel, cfg.LogFile)
	defer flush()

	backend, err := sensors.NewFlowBackend(cfg, logger)
	if err != nil {
		return err
	}
	if err := backend.Init(flow.InitOptions{AutoInit: true}); err != nil {
		return fmt.Errorf("register_debug: init %s: %w", backend.Model(), err)
	}
	logger.Infof("register_debug: %s ready", backend.Model())

	d := NewRegisterDebug(backend, logger)
	addr := fmt.Sprintf(":%d", cfg.RegisterDebugPort)
	logger.Infof("register_debug: listening on %s", addr)
	return http.ListenAndServe(addr, d.Routes("web/register_debug.html"))
}
