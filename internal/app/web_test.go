package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relabs-tech/optical_flow/internal/flow"
	"github.com/relabs-tech/optical_flow/internal/sensors"
	"github.com/relabs-tech/optical_flow/internal/telemetry"
)

func flowPayload(t *testing.T, id string, x int64) []byte {
	t.Helper()
	b, err := json.Marshal(telemetry.FlowMessage{SensorID: id, Position: flow.Position{X: x}})
	require.NoError(t, err)
	return b
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestFlowHubAPI(t *testing.T) {
	hub := NewFlowHub(zaptest.NewLogger(t).Sugar())
	srv := httptest.NewServer(hub.Routes(""))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/flow")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, hub.Update(flowPayload(t, "b", 2)))
	require.NoError(t, hub.Update(flowPayload(t, "a", 1)))
	require.NoError(t, hub.Update(flowPayload(t, "a", 5)))
	assert.Error(t, hub.Update([]byte("nope")))

	resp, err = http.Get(srv.URL + "/api/flow")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []telemetry.FlowMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].SensorID)
	assert.Equal(t, int64(5), got[0].Position.X)
	assert.Equal(t, "b", got[1].SensorID)
}

func TestFlowHubWebsocketStreams(t *testing.T) {
	hub := NewFlowHub(zaptest.NewLogger(t).Sugar())
	srv := httptest.NewServer(hub.Routes(""))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// the handler subscribes after the upgrade
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == 1
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, hub.Update(flowPayload(t, "flow0", 7)))
	var msg telemetry.FlowMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "flow0", msg.SensorID)
	assert.Equal(t, int64(7), msg.Position.X)
}

func newRegisterDebugServer(t *testing.T) (*RegisterDebug, *sensors.Mock, *httptest.Server) {
	t.Helper()
	m := sensors.NewMock(0, 42)
	require.NoError(t, m.Init(flow.InitOptions{}))
	d := NewRegisterDebug(m, zaptest.NewLogger(t).Sugar())
	d.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	srv := httptest.NewServer(d.Routes(""))
	t.Cleanup(srv.Close)
	return d, m, srv
}

func TestRegisterDebugHandle(t *testing.T) {
	d, _, _ := newRegisterDebugServer(t)

	r := d.Handle(RegisterCmd{Action: "read", Address: "0x00"})
	assert.Equal(t, "register_data", r.Type)
	assert.Equal(t, "0x17", r.Value)

	r = d.Handle(RegisterCmd{Action: "read", Address: "0x05"})
	assert.Equal(t, "0x2A", r.Value)

	r = d.Handle(RegisterCmd{Action: "write", Address: "0x0a", Value: "0x19"})
	require.Equal(t, "register_data", r.Type, r.Message)
	assert.Equal(t, "0x0A", r.Address)
	r = d.Handle(RegisterCmd{Action: "read", Address: "0x0A"})
	assert.Equal(t, "0x19", r.Value)

	r = d.Handle(RegisterCmd{Action: "write", Address: "0x00", Value: "0x01"})
	assert.Equal(t, "error", r.Type)
	assert.Contains(t, r.Message, "read-only")

	r = d.Handle(RegisterCmd{Action: "read", Address: "zz"})
	assert.Equal(t, "error", r.Type)

	r = d.Handle(RegisterCmd{Action: "read_all"})
	assert.Len(t, r.Registers, len(sensors.ADNS3080DumpAddresses))
	assert.Equal(t, "0x17", r.Registers["0x00"])

	r = d.Handle(RegisterCmd{Action: "export_config"})
	require.Equal(t, "export_config", r.Type)
	assert.Equal(t, "mock_20260102_030405_registers.json", r.Filename)
	var cfgFile RegisterConfigFile
	require.NoError(t, json.Unmarshal([]byte(r.Config), &cfgFile))
	assert.Equal(t, "0x17", cfgFile.Registers["0x00"])

	r = d.Handle(RegisterCmd{Action: "init"})
	assert.Equal(t, "initialized", r.Status)

	r = d.Handle(RegisterCmd{Action: "dance"})
	assert.Equal(t, "error", r.Type)
}

func TestRegisterDebugWebsocket(t *testing.T) {
	_, _, srv := newRegisterDebugServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello RegisterResponse
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "register_map", hello.Type)
	assert.Equal(t, sensors.ModelMock, hello.Device)
	assert.NotEmpty(t, hello.RegisterMap)

	require.NoError(t, conn.WriteJSON(RegisterCmd{Action: "read", Address: "0x3F"}))
	var r RegisterResponse
	require.NoError(t, conn.ReadJSON(&r))
	assert.Equal(t, "0xE8", r.Value)
}

func TestRegisterDebugMotion(t *testing.T) {
	_, _, srv := newRegisterDebugServer(t)

	resp, err := http.Get(srv.URL + "/api/motion")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 42, body["quality"])
	assert.Equal(t, false, body["low_confidence"])
}
