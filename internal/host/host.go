// Package host implements the Host agent (spec.md §2, §4.4, §6.2): the
// stateful process that owns device ownership, the Controller Registry,
// and graph execution against real devices. Grounded on the teacher
// framework's core/agent.go (component lifecycle: Config, Logger,
// Telemetry, a mux-backed HTTP surface, a self-registration loop against
// a central registry) adapted from gomind's peer-discovery agent model to
// VirtualPyTest's server/host split: the Host registers itself with one
// Server rather than advertising into a shared discovery index.
package host

import (
	"context"
	"sync"

	"github.com/angelstreet/virtualpytest-sub002/internal/aicache"
	"github.com/angelstreet/virtualpytest-sub002/internal/controller"
	"github.com/angelstreet/virtualpytest-sub002/internal/executor"
	"github.com/angelstreet/virtualpytest-sub002/internal/logger"
	"github.com/angelstreet/virtualpytest-sub002/internal/navigation"
	"github.com/angelstreet/virtualpytest-sub002/internal/persistence"
	"github.com/angelstreet/virtualpytest-sub002/internal/telemetry"
)

// DeviceInfo describes one device this Host owns, as declared at
// registration time (spec.md §4.5: "{host_id, host_url, devices:
// [{device_id, model, capabilities}]}").
type DeviceInfo struct {
	DeviceID     string   `json:"device_id"`
	Model        string   `json:"model"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Host is the process-local state for a host agent: its device roster,
// Controller Registry, Navigation Engine, Executor, and async task table.
type Host struct {
	ID  string
	URL string

	mu      sync.RWMutex
	devices map[string]DeviceInfo

	Registry *controller.Registry
	Nav      *navigation.Engine
	Exec     *executor.Executor
	Cache    *aicache.Cache
	Store    persistence.Store
	Tasks    *TaskManager

	Log logger.Logger
	Tel *telemetry.Telemetry
}

// Option configures a Host at construction time.
type Option func(*Host)

// WithDevices seeds the host's device roster.
func WithDevices(devices ...DeviceInfo) Option {
	return func(h *Host) {
		for _, d := range devices {
			h.devices[d.DeviceID] = d
		}
	}
}

// New builds a Host wired to its sub-components. store/nav/registry are
// shared with no other process-local state -- the Controller Registry in
// particular must be this Host's own instance, since spec.md §4.4's "one
// controller per (device_id, category) for the process lifetime"
// invariant is scoped to a single host process.
func New(id, url string, store persistence.Store, registry *controller.Registry, nav *navigation.Engine, cache *aicache.Cache, log logger.Logger, tel *telemetry.Telemetry, opts ...Option) *Host {
	if log == nil {
		log = logger.Noop()
	}
	actions := executor.NewControllerActionRunner(registry)
	verifications := executor.NewControllerVerificationRunner(registry)

	h := &Host{
		ID:       id,
		URL:      url,
		devices:  map[string]DeviceInfo{},
		Registry: registry,
		Nav:      nav,
		Exec:     executor.NewExecutor(actions, verifications, nav, log, tel),
		Cache:    cache,
		Store:    store,
		Tasks:    NewTaskManager(),
		Log:      log,
		Tel:      tel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Devices returns a snapshot of the host's device roster, for the
// /host/register payload and for DeviceBusy/ownership checks.
func (h *Host) Devices() []DeviceInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]DeviceInfo, 0, len(h.devices))
	for _, d := range h.devices {
		out = append(out, d)
	}
	return out
}

// Device looks up one device's declared model, for building the
// executor.DeviceContext a task needs.
func (h *Host) Device(deviceID string) (DeviceInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.devices[deviceID]
	return d, ok
}

// ForgetDevice drops the device's cached controllers; used when a device
// is reconfigured or removed from the roster at runtime.
func (h *Host) ForgetDevice(ctx context.Context, deviceID string) {
	h.Registry.ForgetDevice(deviceID)
}
