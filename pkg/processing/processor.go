package processing

import (
	"context"

	"github.com/UiS-Subsea/rov-bridge/pkg/log"
	"github.com/UiS-Subsea/rov-bridge/pkg/network"
	"github.com/UiS-Subsea/rov-bridge/pkg/translation"
)

// ChunkDecoder turns raw inbound bytes into telemetry records, keeping the
// partial packet of each stream apart from every other stream.
type ChunkDecoder interface {
	Decode(stream uint64, chunk []byte) []translation.Record
	Close(stream uint64)
}

// TelemetryProcessor is the single goroutine that owns the stateful decoder.
// It reads raw chunks from the transport and routes each non-empty batch.
type TelemetryProcessor struct {
	logger   log.Logger
	decoder  ChunkDecoder
	director *MessageDirector
}

// NewTelemetryProcessor creates a new telemetry processor
func NewTelemetryProcessor(logger log.Logger, decoder ChunkDecoder, director *MessageDirector) *TelemetryProcessor {
	return &TelemetryProcessor{
		logger:   logger.WithField(log.ComponentField, "telemetry"),
		decoder:  decoder,
		director: director,
	}
}

// ProcessChunk decodes one chunk and routes the resulting batch. An end of
// stream chunk releases that stream's decoder.
func (p *TelemetryProcessor) ProcessChunk(chunk network.Chunk) {
	if chunk.EOF {
		p.decoder.Close(chunk.Stream)
		p.logger.Debugf("Telemetry stream %d ended", chunk.Stream)
		return
	}

	records := p.decoder.Decode(chunk.Stream, chunk.Data)
	if len(records) == 0 {
		return
	}

	batch := &Batch{Records: records, Timestamp: GetCurrentTimestamp()}
	if err := p.director.RouteBatch(batch); err != nil {
		p.logger.Warnf("Dropping telemetry batch: %v", err)
	}
}

// Run processes chunks from inbound until ctx is cancelled or inbound is closed.
func (p *TelemetryProcessor) Run(ctx context.Context, inbound <-chan network.Chunk) error {
	p.logger.Infof("Telemetry processor started")
	defer p.logger.Infof("Telemetry processor stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-inbound:
			if !ok {
				return nil
			}
			p.ProcessChunk(chunk)
		}
	}
}
