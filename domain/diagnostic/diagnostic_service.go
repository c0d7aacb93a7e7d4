package diagnostic

import (
	"sync"
	"time"

	"github.com/UiS-Subsea/rov-bridge/domain/rov"
	"github.com/UiS-Subsea/rov-bridge/pkg/broadcast"
	"github.com/UiS-Subsea/rov-bridge/pkg/controller"
	"github.com/UiS-Subsea/rov-bridge/pkg/processing"
	"github.com/UiS-Subsea/rov-bridge/pkg/translation"
	"github.com/gofiber/fiber/v2"
)

// LinkStatus describes one side of the vehicle connection.
type LinkStatus struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
}

// AuxStatus counts messages from the autonomy source.
type AuxStatus struct {
	Received uint64 `json:"received"`
	Failed   uint64 `json:"failed"`
}

// BridgeStatus is a point-in-time view of the bridge.
type BridgeStatus struct {
	Timestamp   time.Time                         `json:"timestamp"`
	VehicleID   string                            `json:"vehicle_id"`
	Mode        string                            `json:"mode"`
	Command     LinkStatus                        `json:"command_link"`
	Telemetry   LinkStatus                        `json:"telemetry_link"`
	QueueDepth  int                               `json:"queue_depth"`
	Commands    rov.Stats                         `json:"commands"`
	Observers   broadcast.Stats                   `json:"observers"`
	Decoder     translation.DecoderStats          `json:"decoder"`
	Pools       map[string]processing.PoolMetrics `json:"pools"`
	Channels    []processing.ChannelInfo          `json:"channels"`
	Controllers map[string]controller.Binding     `json:"controllers"`
	Autonom     AuxStatus                         `json:"autonom"`
}

// Link is a connection that reports its state.
type Link interface {
	IsConnected() bool
}

// AddressedLink is a Link with a remote address.
type AddressedLink interface {
	Link
	Address() string
}

// Sources are the components a status snapshot reads from. Nil fields are
// left out of the snapshot.
type Sources struct {
	VehicleID func() string
	Mode      interface{ Mode() string }
	Command   AddressedLink
	Telemetry Link
	Queue     interface{ Len() int }
	Consumer  interface{ Stats() rov.Stats }
	Observers interface{ Stats() broadcast.Stats }
	Decoder   interface{ Stats() translation.DecoderStats }
	Director  *processing.MessageDirector
	Registry  *controller.Registry
	Autonom   interface{ Stats() (uint64, uint64) }
}

// DiagnosticService aggregates bridge status for the diagnostics endpoint.
type DiagnosticService struct {
	mu      sync.RWMutex
	sources Sources
	last    BridgeStatus
}

// NewDiagnosticService creates a new diagnostic service instance
func NewDiagnosticService(sources Sources) *DiagnosticService {
	return &DiagnosticService{sources: sources}
}

// Snapshot collects the current status.
func (s *DiagnosticService) Snapshot() BridgeStatus {
	src := s.sources
	st := BridgeStatus{Timestamp: time.Now()}

	if src.VehicleID != nil {
		st.VehicleID = src.VehicleID()
	}
	if src.Mode != nil {
		st.Mode = src.Mode.Mode()
	}
	if src.Command != nil {
		st.Command = LinkStatus{Connected: src.Command.IsConnected(), Address: src.Command.Address()}
	}
	if src.Telemetry != nil {
		st.Telemetry = LinkStatus{Connected: src.Telemetry.IsConnected()}
	}
	if src.Queue != nil {
		st.QueueDepth = src.Queue.Len()
	}
	if src.Consumer != nil {
		st.Commands = src.Consumer.Stats()
	}
	if src.Observers != nil {
		st.Observers = src.Observers.Stats()
	}
	if src.Decoder != nil {
		st.Decoder = src.Decoder.Stats()
	}
	if src.Director != nil {
		st.Pools = src.Director.GetPoolMetrics()
		if reg := src.Director.ChannelRegistry(); reg != nil {
			st.Channels = reg.GetChannelStats()
		}
	}
	if src.Registry != nil {
		st.Controllers = src.Registry.Bindings()
	}
	if src.Autonom != nil {
		st.Autonom.Received, st.Autonom.Failed = src.Autonom.Stats()
	}

	s.mu.Lock()
	s.last = st
	s.mu.Unlock()
	return st
}

// GetMetrics returns the most recent snapshot without collecting a new one.
func (s *DiagnosticService) GetMetrics() BridgeStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// GetMetricsHandler handles API requests for bridge status
func (s *DiagnosticService) GetMetricsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"metrics": s.Snapshot(),
	})
}

// HealthHandler reports liveness and whether the command link is up.
func (s *DiagnosticService) HealthHandler(c *fiber.Ctx) error {
	connected := s.sources.Command != nil && s.sources.Command.IsConnected()
	return c.JSON(fiber.Map{
		"status":       "healthy",
		"vehicle_link": connected,
	})
}
