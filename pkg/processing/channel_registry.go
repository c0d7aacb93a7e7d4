package processing

import (
	"sort"
	"sync"

	"github.com/UiS-Subsea/rov-bridge/pkg/config"
	"github.com/UiS-Subsea/rov-bridge/pkg/log"
	"github.com/UiS-Subsea/rov-bridge/pkg/translation"
)

// ChannelInfo holds metadata and receive statistics for a telemetry channel
type ChannelInfo struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Priority     string `json:"priority"`
	Configured   bool   `json:"configured"`
	StatCount    int64  `json:"count"`
	LastReceived int64  `json:"last_received"`
}

// ChannelRegistry tracks every channel seen on the telemetry stream
type ChannelRegistry struct {
	logger   log.Logger
	channels map[int]*ChannelInfo
	mu       sync.RWMutex
}

// NewChannelRegistry creates a new channel registry
func NewChannelRegistry(logger log.Logger) *ChannelRegistry {
	return &ChannelRegistry{
		logger:   logger,
		channels: make(map[int]*ChannelInfo),
	}
}

// LoadFromConfig replaces the registry contents with the configured channels.
func (r *ChannelRegistry) LoadFromConfig(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.channels = make(map[int]*ChannelInfo)
	for _, ch := range cfg.Channels {
		mapping, _ := cfg.GetChannelMapping(ch.ID)
		name := mapping.Name
		if name == "" {
			name = translation.ChannelName(ch.ID)
		}
		r.channels[ch.ID] = &ChannelInfo{
			ID:         ch.ID,
			Name:       name,
			Type:       translation.ChannelName(ch.ID),
			Priority:   mapping.Priority,
			Configured: true,
		}
	}

	r.logger.Infof("Loaded %d channels into registry", len(r.channels))
}

// UpdateChannelStats records one received record.
func (r *ChannelRegistry) UpdateChannelStats(rec translation.Record, timestamp int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := rec.Channel()
	info, exists := r.channels[id]
	if !exists {
		info = &ChannelInfo{
			ID:       id,
			Name:     rec.TypeName(),
			Type:     rec.TypeName(),
			Priority: config.PriorityStandard,
		}
		r.channels[id] = info
		r.logger.Debugf("First record on unconfigured channel %d (%s)", id, info.Type)
	}

	info.StatCount++
	info.LastReceived = timestamp
}

// GetChannelInfo returns a copy of the info for a channel
func (r *ChannelRegistry) GetChannelInfo(id int) (ChannelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.channels[id]
	if !exists {
		return ChannelInfo{}, false
	}
	return *info, true
}

// GetChannelStats returns copies of all channel infos ordered by id
func (r *ChannelRegistry) GetChannelStats() []ChannelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]ChannelInfo, 0, len(r.channels))
	for _, info := range r.channels {
		stats = append(stats, *info)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].ID < stats[j].ID })
	return stats
}
