package zeromq

import (
	"github.com/UiS-Subsea/rov-bridge/pkg/log"
	"github.com/UiS-Subsea/rov-bridge/pkg/processing"
)

// TelemetrySinkName names the PUB mirror in the director's pools.
const TelemetrySinkName = "zeromq-pub"

// RegisterTelemetryMirror adds the PUB socket as a LOW priority telemetry
// sink. It reports false when no publish address is configured.
func RegisterTelemetryMirror(service *ZeroMQService, director *processing.MessageDirector, logger log.Logger) (bool, error) {
	if !service.HasPublisher() {
		logger.Infof("ZeroMQ telemetry mirror disabled")
		return false, nil
	}

	handler := processing.NewPublishingResultHandler(TelemetrySinkName, logger, service)
	if err := director.AddSink(processing.PriorityLow, TelemetrySinkName, handler.CreateProcessorFunc()); err != nil {
		return false, err
	}
	return true, nil
}
