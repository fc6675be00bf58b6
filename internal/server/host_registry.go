// Package server implements the stateless API server (spec.md §2, §4.5,
// §6.1): the process every client and the UI's backend talk to, which
// never touches a device directly but instead proxies device-scoped work
// to whichever Host currently owns it. Grounded on the teacher framework's
// core/discovery.go (RedisDiscovery's registration/heartbeat bookkeeping)
// adapted from a shared discovery index to a single in-process
// (device_id -> host) map, since the Server is the sole consumer of its
// own registry rather than one peer among many reading a shared store.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/angelstreet/virtualpytest-sub002/internal/host"
	"github.com/angelstreet/virtualpytest-sub002/internal/logger"
)

// HostEntry is one registered Host's last-known address and roster.
type HostEntry struct {
	HostID        string
	HostURL       string
	Devices       map[string]host.DeviceInfo
	LastHeartbeat time.Time
	Available     bool
}

// HostRegistry is the Server's in-memory (device_id -> host) map (spec.md
// §4.5 "Model"), refreshed on registration and heartbeat, swept
// periodically for missed heartbeats.
type HostRegistry struct {
	mu      sync.RWMutex
	hosts   map[string]*HostEntry
	devices map[string]string // device_id -> host_id

	missedThreshold int
	heartbeatWindow time.Duration

	log logger.Logger
}

// NewHostRegistry builds an empty HostRegistry. A host is marked
// unavailable once it misses missedThreshold consecutive heartbeats at
// heartbeatWindow spacing (spec.md §4.5: "10s / 3 missed").
func NewHostRegistry(heartbeatWindow time.Duration, missedThreshold int, log logger.Logger) *HostRegistry {
	if log == nil {
		log = logger.Noop()
	}
	if missedThreshold <= 0 {
		missedThreshold = 3
	}
	return &HostRegistry{
		hosts:           map[string]*HostEntry{},
		devices:         map[string]string{},
		missedThreshold: missedThreshold,
		heartbeatWindow: heartbeatWindow,
		log:             log,
	}
}

// Register records or replaces a host's declared roster (spec.md §4.5
// "Each Host registers itself with the Server at startup").
func (r *HostRegistry) Register(hostID, hostURL string, devices []host.DeviceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deviceMap := make(map[string]host.DeviceInfo, len(devices))
	for _, d := range devices {
		deviceMap[d.DeviceID] = d
		r.devices[d.DeviceID] = hostID
	}
	r.hosts[hostID] = &HostEntry{
		HostID:        hostID,
		HostURL:       hostURL,
		Devices:       deviceMap,
		LastHeartbeat: time.Now(),
		Available:     true,
	}
	r.log.Info("host registered", logger.Fields{"host_id": hostID, "host_url": hostURL, "devices": len(devices)})
}

// Heartbeat refreshes a host's last-seen timestamp and marks it available
// again if it had been swept unavailable. Reports whether the host is known.
func (r *HostRegistry) Heartbeat(hostID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.hosts[hostID]
	if !ok {
		return false
	}
	entry.LastHeartbeat = time.Now()
	entry.Available = true
	return true
}

// HostForDevice resolves the owning, currently-available Host for a device.
func (r *HostRegistry) HostForDevice(deviceID string) (*HostEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hostID, ok := r.devices[deviceID]
	if !ok {
		return nil, false
	}
	entry, ok := r.hosts[hostID]
	if !ok || !entry.Available {
		return nil, false
	}
	return entry, true
}

// Sweep marks every host (and transitively its devices, via
// HostForDevice's Available check) unavailable once it has missed
// missedThreshold heartbeats. Returns the host ids newly marked unavailable.
func (r *HostRegistry) Sweep() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.missedThreshold
	var newlyUnavailable []string
	for id, entry := range r.hosts {
		if !entry.Available {
			continue
		}
		missed := int(time.Since(entry.LastHeartbeat) / r.heartbeatWindow)
		if missed >= cutoff {
			entry.Available = false
			newlyUnavailable = append(newlyUnavailable, id)
		}
	}
	return newlyUnavailable
}

// StartSweeper runs Sweep on a ticker until ctx is done, logging any host
// it marks unavailable. Grounded on the same ticker/select-over-ctx.Done
// shape as the teacher's RedisDiscovery heartbeat loop, run here as a
// consumer-side sweep instead of a self-reporting producer loop.
func (r *HostRegistry) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatWindow)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, id := range r.Sweep() {
					r.log.Warn("host marked unavailable: missed heartbeats", logger.Fields{"host_id": id})
				}
			}
		}
	}()
}
