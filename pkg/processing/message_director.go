package processing

import (
	"fmt"
	"sync"
	"time"

	"github.com/UiS-Subsea/rov-bridge/pkg/config"
	"github.com/UiS-Subsea/rov-bridge/pkg/log"
)

// Constants for priority levels
const (
	PriorityHigh     = config.PriorityHigh
	PriorityStandard = config.PriorityStandard
	PriorityLow      = config.PriorityLow
)

// GetCurrentTimestamp gets the current timestamp in nanoseconds
func GetCurrentTimestamp() int64 {
	return time.Now().UnixNano()
}

// DirectorOptions holds configuration options for the MessageDirector
type DirectorOptions struct {
	QueueSize       int
	HighWorkers     int
	StandardWorkers int
	LowWorkers      int
}

// MessageDirector records every decoded batch in the channel registry and
// hands it to each priority tier that has sinks. Observers are served from
// the HIGH tier, mirrors from the lower tiers, so a slow mirror never
// delays the observer broadcast.
type MessageDirector struct {
	logger          log.Logger
	pools           map[string]*ProcessingPool
	order           []string
	channelRegistry *ChannelRegistry
	running         bool
	mu              sync.RWMutex
}

// NewMessageDirector creates a director with one pool per priority tier.
func NewMessageDirector(logger log.Logger, channelRegistry *ChannelRegistry, options *DirectorOptions) *MessageDirector {
	if options == nil {
		options = &DirectorOptions{QueueSize: 100}
	}
	if options.QueueSize <= 0 {
		options.QueueSize = 100
	}

	d := &MessageDirector{
		logger:          logger,
		channelRegistry: channelRegistry,
		pools:           make(map[string]*ProcessingPool),
		order:           []string{PriorityHigh, PriorityStandard, PriorityLow},
	}
	// The HIGH tier feeds observers and must keep arrival order.
	d.pools[PriorityHigh] = NewProcessingPool(PriorityHigh, 1, options.QueueSize, logger)
	d.pools[PriorityStandard] = NewProcessingPool(PriorityStandard, options.StandardWorkers, options.QueueSize, logger)
	d.pools[PriorityLow] = NewProcessingPool(PriorityLow, options.LowWorkers, options.QueueSize, logger)

	if options.HighWorkers > 1 {
		logger.Warnf("Ignoring %d HIGH workers, observer delivery uses a single worker", options.HighWorkers)
	}
	return d
}

// AddSink registers a sink on the given priority tier.
func (d *MessageDirector) AddSink(priority string, name string, processor BatchProcessor) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	pool, ok := d.pools[priority]
	if !ok {
		return fmt.Errorf("unknown priority '%s' for sink %s", priority, name)
	}
	pool.AddProcessor(name, processor)
	d.logger.Infof("Registered sink %s on %s priority pool", name, priority)
	return nil
}

// RouteBatch records the batch and queues it on every tier with sinks.
// It returns an error naming the tiers that dropped it.
func (d *MessageDirector) RouteBatch(batch *Batch) error {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()

	if !running {
		return fmt.Errorf("message director is not running")
	}

	if d.channelRegistry != nil {
		for _, rec := range batch.Records {
			d.channelRegistry.UpdateChannelStats(rec, batch.Timestamp)
		}
	}

	var dropped []string
	for _, priority := range d.order {
		pool := d.pools[priority]
		if !pool.HasProcessors() {
			continue
		}
		if !pool.ProcessBatch(batch) {
			dropped = append(dropped, priority)
		}
	}

	if len(dropped) > 0 {
		return fmt.Errorf("failed to enqueue batch of %d records on pools %v", len(batch.Records), dropped)
	}
	return nil
}

// Start starts all processing pools
func (d *MessageDirector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}

	d.running = true
	d.logger.Infof("Starting Message Director")
	for _, priority := range d.order {
		d.pools[priority].Start()
	}
}

// Stop stops all processing pools after draining them
func (d *MessageDirector) Stop() {
	d.mu.Lock()
	running := d.running
	d.running = false
	d.mu.Unlock()

	if !running {
		return
	}

	d.logger.Infof("Stopping Message Director")
	for _, priority := range d.order {
		d.pools[priority].Stop()
	}
	d.logger.Infof("Message Director stopped")
}

// GetPoolMetrics returns metrics for all pools
func (d *MessageDirector) GetPoolMetrics() map[string]PoolMetrics {
	d.mu.RLock()
	defer d.mu.RUnlock()

	metrics := make(map[string]PoolMetrics, len(d.pools))
	for priority, pool := range d.pools {
		metrics[priority] = pool.GetMetrics()
	}
	return metrics
}

// ChannelRegistry returns the registry the director updates.
func (d *MessageDirector) ChannelRegistry() *ChannelRegistry {
	return d.channelRegistry
}
