package diagnostic

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/UiS-Subsea/rov-bridge/domain/rov"
	"github.com/UiS-Subsea/rov-bridge/pkg/broadcast"
	"github.com/UiS-Subsea/rov-bridge/pkg/controller"
	"github.com/UiS-Subsea/rov-bridge/pkg/log"
	"github.com/UiS-Subsea/rov-bridge/pkg/processing"
	"github.com/gofiber/fiber/v2"
)

type fakeLink struct {
	connected bool
	addr      string
}

func (l fakeLink) IsConnected() bool { return l.connected }
func (l fakeLink) Address() string   { return l.addr }

type fakeMode string

func (m fakeMode) Mode() string { return string(m) }

type fakeQueue int

func (q fakeQueue) Len() int { return int(q) }

type fakeObservers struct{}

func (fakeObservers) Stats() broadcast.Stats { return broadcast.Stats{Clients: 2, Backlog: 1} }

type fakeAutonom struct{}

func (fakeAutonom) Stats() (uint64, uint64) { return 5, 1 }

type fakeConsumer struct{}

func (fakeConsumer) Stats() rov.Stats { return rov.Stats{Dequeued: 7, Sent: 6, Empty: 1} }

func TestSnapshotAggregatesSources(t *testing.T) {
	registry := controller.NewRegistry()
	registry.Remember("rov", "guid-1", 0)
	director := processing.NewMessageDirector(log.NewNopLogger(), processing.NewChannelRegistry(log.NewNopLogger()), nil)

	svc := NewDiagnosticService(Sources{
		VehicleID: func() string { return "rov-1" },
		Mode:      fakeMode("AUTO"),
		Command:   fakeLink{connected: true, addr: "10.0.0.2:6900"},
		Telemetry: fakeLink{},
		Queue:     fakeQueue(3),
		Consumer:  fakeConsumer{},
		Observers: fakeObservers{},
		Director:  director,
		Registry:  registry,
		Autonom:   fakeAutonom{},
	})

	st := svc.Snapshot()
	if st.VehicleID != "rov-1" || st.Mode != "AUTO" || st.QueueDepth != 3 {
		t.Errorf("Unexpected snapshot %+v", st)
	}
	if !st.Command.Connected || st.Command.Address != "10.0.0.2:6900" || st.Telemetry.Connected {
		t.Errorf("Unexpected link status %+v / %+v", st.Command, st.Telemetry)
	}
	if st.Observers.Clients != 2 || st.Autonom.Received != 5 || st.Autonom.Failed != 1 {
		t.Errorf("Unexpected counters %+v", st)
	}
	if st.Commands.Dequeued != 7 || st.Commands.Sent != 6 {
		t.Errorf("Unexpected command stats %+v", st.Commands)
	}
	if len(st.Pools) != 3 || st.Controllers["rov"].GUID != "guid-1" {
		t.Errorf("Unexpected pools or controllers %+v", st)
	}
	if svc.GetMetrics().Timestamp != st.Timestamp {
		t.Errorf("Expected GetMetrics to return the last snapshot")
	}
}

func TestHandlers(t *testing.T) {
	svc := NewDiagnosticService(Sources{Mode: fakeMode("MANUAL")})
	app := fiber.New()
	app.Get("/health", svc.HealthHandler)
	app.Get("/api/diagnostics", svc.GetMetricsHandler)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || string(body) != `{"status":"healthy","vehicle_link":false}` {
		t.Errorf("Unexpected health response %d %s", resp.StatusCode, body)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/api/diagnostics", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	var out struct {
		Status  string       `json:"status"`
		Metrics BridgeStatus `json:"metrics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode diagnostics: %v", err)
	}
	if out.Status != "success" || out.Metrics.Mode != "MANUAL" {
		t.Errorf("Unexpected diagnostics %+v", out)
	}
}
