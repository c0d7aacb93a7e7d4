package processing

import (
	"sync"
	"time"

	"github.com/UiS-Subsea/rov-bridge/pkg/log"
	"github.com/UiS-Subsea/rov-bridge/pkg/translation"
)

// Batch is the set of records decoded from one inbound chunk.
type Batch struct {
	Records   []translation.Record
	Timestamp int64
}

// BatchProcessor delivers a batch to one sink.
type BatchProcessor func(batch *Batch) error

// ProcessingPool is a bounded worker pool for one priority tier. With a
// single worker, batches are processed in arrival order.
type ProcessingPool struct {
	name        string
	workerCount int
	logger      log.Logger
	batchQueue  chan *Batch
	running     bool
	wg          sync.WaitGroup
	mu          sync.Mutex
	processors  []namedProcessor
	queueSize   int
	metrics     *PoolMetrics
}

type namedProcessor struct {
	name    string
	process BatchProcessor
}

// PoolMetrics tracks metrics for a processing pool
type PoolMetrics struct {
	ProcessedCount    int64 `json:"processed"`
	ErrorCount        int64 `json:"errors"`
	QueuedCount       int64 `json:"queued"`
	DroppedCount      int64 `json:"dropped"`
	LastProcessedTime int64 `json:"last_processed_ns"`
	ProcessingTimeAvg int64 `json:"avg_us"`
	ProcessingTimeMax int64 `json:"max_us"`
	QueueLength       int   `json:"queue_length"`
	QueueCapacity     int   `json:"queue_capacity"`
	mu                sync.Mutex
}

// NewProcessingPool creates a new processing pool
func NewProcessingPool(name string, workerCount int, queueSize int, logger log.Logger) *ProcessingPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &ProcessingPool{
		name:        name,
		workerCount: workerCount,
		queueSize:   queueSize,
		logger:      logger,
		batchQueue:  make(chan *Batch, queueSize),
		metrics:     &PoolMetrics{},
	}
}

// AddProcessor appends a sink. Sinks run in registration order for each batch.
func (p *ProcessingPool) AddProcessor(name string, processor BatchProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processors = append(p.processors, namedProcessor{name: name, process: processor})
}

// HasProcessors reports whether any sink is registered.
func (p *ProcessingPool) HasProcessors() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.processors) > 0
}

// ProcessBatch queues a batch without blocking. It returns false when the
// pool is stopped or its queue is full.
func (p *ProcessingPool) ProcessBatch(batch *Batch) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		p.logger.Warnf("%s pool not running, discarding batch", p.name)
		return false
	}

	p.metrics.mu.Lock()
	p.metrics.QueuedCount++
	p.metrics.mu.Unlock()

	select {
	case p.batchQueue <- batch:
		return true
	default:
		p.metrics.mu.Lock()
		p.metrics.DroppedCount++
		p.metrics.mu.Unlock()
		p.logger.Warnf("%s pool queue is full, discarding batch", p.name)
		return false
	}
}

// Start starts the processing pool workers
func (p *ProcessingPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.logger.Infof("Starting %s priority pool with %d workers", p.name, p.workerCount)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop drains queued batches and waits for the workers.
func (p *ProcessingPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.batchQueue)
	p.mu.Unlock()

	p.logger.Infof("Stopping %s priority pool", p.name)
	p.wg.Wait()
	p.logger.Infof("%s priority pool stopped", p.name)

	p.logMetrics()
}

func (p *ProcessingPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debugf("%s pool worker %d started", p.name, id)

	for batch := range p.batchQueue {
		p.mu.Lock()
		processors := p.processors
		p.mu.Unlock()

		if len(processors) == 0 {
			p.logger.Errorf("No sinks set for %s pool", p.name)
			continue
		}

		startTime := time.Now()
		var failed bool
		for _, proc := range processors {
			if err := proc.process(batch); err != nil {
				failed = true
				p.logger.Errorf("Sink %s failed in %s pool: %v", proc.name, p.name, err)
			}
		}
		processingTime := time.Since(startTime).Microseconds()

		p.metrics.mu.Lock()
		p.metrics.ProcessedCount++
		p.metrics.LastProcessedTime = time.Now().UnixNano()
		if p.metrics.ProcessingTimeAvg == 0 {
			p.metrics.ProcessingTimeAvg = processingTime
		} else {
			// Simple moving average
			p.metrics.ProcessingTimeAvg = (p.metrics.ProcessingTimeAvg + processingTime) / 2
		}
		if processingTime > p.metrics.ProcessingTimeMax {
			p.metrics.ProcessingTimeMax = processingTime
		}
		if failed {
			p.metrics.ErrorCount++
		}
		p.metrics.mu.Unlock()
	}

	p.logger.Debugf("%s pool worker %d stopped", p.name, id)
}

// GetMetrics returns a copy of the current metrics
func (p *ProcessingPool) GetMetrics() PoolMetrics {
	p.metrics.mu.Lock()
	defer p.metrics.mu.Unlock()

	return PoolMetrics{
		ProcessedCount:    p.metrics.ProcessedCount,
		ErrorCount:        p.metrics.ErrorCount,
		QueuedCount:       p.metrics.QueuedCount,
		DroppedCount:      p.metrics.DroppedCount,
		LastProcessedTime: p.metrics.LastProcessedTime,
		ProcessingTimeAvg: p.metrics.ProcessingTimeAvg,
		ProcessingTimeMax: p.metrics.ProcessingTimeMax,
		QueueLength:       p.GetQueueLength(),
		QueueCapacity:     p.GetQueueCapacity(),
	}
}

func (p *ProcessingPool) logMetrics() {
	metrics := p.GetMetrics()

	p.logger.Infof("%s pool metrics: processed=%d, errors=%d, dropped=%d, avg_time=%dµs, max_time=%dµs",
		p.name, metrics.ProcessedCount, metrics.ErrorCount, metrics.DroppedCount,
		metrics.ProcessingTimeAvg, metrics.ProcessingTimeMax)
}

// GetQueueLength returns the current length of the batch queue
func (p *ProcessingPool) GetQueueLength() int {
	return len(p.batchQueue)
}

// GetQueueCapacity returns the capacity of the batch queue
func (p *ProcessingPool) GetQueueCapacity() int {
	return p.queueSize
}
