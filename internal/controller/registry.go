// Package controller implements the Controller Registry (spec.md §4.4):
// one driver instance per (device_id, category) for the process lifetime,
// built lazily under a per-device mutex, and a command->category routing
// table computed from each driver's declared commands at startup.
// Grounded on the teacher framework's core/redis_registry.go (per-entity
// lazy registration under a mutex) and pkg/discovery's driver-interface
// style, generalized from network service discovery to in-process device
// driver dispatch.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/angelstreet/virtualpytest-sub002/internal/apperr"
	"github.com/angelstreet/virtualpytest-sub002/internal/logger"
)

// Category is one of the driver categories a device model declares
// support for (spec.md §4.4).
type Category string

const (
	CategoryRemote              Category = "remote"
	CategoryAV                  Category = "av"
	CategoryVerificationImage   Category = "verification.image"
	CategoryVerificationText    Category = "verification.text"
	CategoryVerificationVideo   Category = "verification.video"
	CategoryVerificationAudio   Category = "verification.audio"
)

// CommandSpec is one command a driver declares, per the driver contract (spec.md §6.4).
type CommandSpec struct {
	Name           string
	ParamSchema    map[string]interface{}
	TimeoutDefault time.Duration
}

// Driver is a controller's implementation surface (spec.md §6.4): a single
// opaque Execute entry point regardless of category.
type Driver interface {
	Category() Category
	Commands() []CommandSpec
	Execute(ctx context.Context, command string, params map[string]interface{}) (success bool, evidence map[string]interface{}, err error)
}

// Factory constructs a Driver for a specific device, given its declared
// model. Returning an error signals the model has no usable driver for
// this category (NoSuchController, spec.md §4.4).
type Factory func(deviceID, deviceModel string) (Driver, error)

type registration struct {
	category Category
	commands []CommandSpec
	factory  Factory
}

type deviceCategoryKey struct {
	deviceID string
	category Category
}

// Registry is the per-process Controller Registry.
type Registry struct {
	log logger.Logger

	mu          sync.Mutex // guards deviceLocks map membership only
	deviceLocks map[string]*sync.Mutex

	controllersMu sync.RWMutex
	controllers   map[deviceCategoryKey]Driver

	registrations  map[Category]registration
	commandRouting map[string]Category
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.Noop()
	}
	return &Registry{
		log:            log,
		deviceLocks:    map[string]*sync.Mutex{},
		controllers:    map[deviceCategoryKey]Driver{},
		registrations:  map[Category]registration{},
		commandRouting: map[string]Category{},
	}
}

// Register wires a driver factory and its declared commands into the
// registry's command->category routing table (spec.md §4.4 "Command ->
// category routing"). Call once per category at startup before serving
// any ExecuteCommand calls.
func (r *Registry) Register(category Category, commands []CommandSpec, factory Factory) {
	r.registrations[category] = registration{category: category, commands: commands, factory: factory}
	for _, cmd := range commands {
		r.commandRouting[cmd.Name] = category
	}
	r.log.Info("controller driver registered", logger.Fields{"category": string(category), "commands": len(commands)})
}

// CategoryForCommand resolves a command name to its owning category.
func (r *Registry) CategoryForCommand(command string) (Category, bool) {
	cat, ok := r.commandRouting[command]
	return cat, ok
}

func (r *Registry) lockFor(deviceID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.deviceLocks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		r.deviceLocks[deviceID] = l
	}
	return l
}

// GetController returns the cached controller instance for (deviceID,
// category), constructing it lazily under the device's mutex on first use
// (spec.md §4.4 invariant: one instance per (device_id, category) for the
// process lifetime; concurrent construction is serialized).
func (r *Registry) GetController(deviceID, deviceModel string, category Category) (Driver, error) {
	key := deviceCategoryKey{deviceID: deviceID, category: category}

	r.controllersMu.RLock()
	d, ok := r.controllers[key]
	r.controllersMu.RUnlock()
	if ok {
		return d, nil
	}

	lock := r.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	r.controllersMu.RLock()
	d, ok = r.controllers[key]
	r.controllersMu.RUnlock()
	if ok {
		return d, nil
	}

	reg, ok := r.registrations[category]
	if !ok {
		return nil, apperr.Wrapf("GetController", "DeviceUnavailable", apperr.ErrDeviceUnavailable,
			"no driver registered for category %s", category)
	}

	driver, err := reg.factory(deviceID, deviceModel)
	if err != nil {
		return nil, apperr.Wrapf("GetController", "DeviceUnavailable", apperr.ErrDeviceUnavailable,
			"device %s model %s has no %s driver: %v", deviceID, deviceModel, category, err)
	}

	r.controllersMu.Lock()
	r.controllers[key] = driver
	r.controllersMu.Unlock()

	r.log.Info("controller constructed", logger.Fields{"device_id": deviceID, "category": string(category)})
	return driver, nil
}

// ExecuteCommand routes a command to the right controller (spec.md §4.4
// ExecuteCommand): structural failures (missing driver, device offline)
// surface as DeviceUnavailable; a driver-reported failure is a plain
// (false, evidence, nil) result the caller's retry policy may act on.
func (r *Registry) ExecuteCommand(ctx context.Context, deviceID, deviceModel, command string, params map[string]interface{}) (bool, map[string]interface{}, error) {
	category, ok := r.CategoryForCommand(command)
	if !ok {
		return false, nil, apperr.Wrapf("ExecuteCommand", "DeviceUnavailable", apperr.ErrDeviceUnavailable,
			"no category registered for command %q", command)
	}

	driver, err := r.GetController(deviceID, deviceModel, category)
	if err != nil {
		return false, nil, err
	}

	success, evidence, err := driver.Execute(ctx, command, params)
	if err != nil {
		return false, evidence, apperr.Wrapf("ExecuteCommand", "Transient", apperr.ErrTransient,
			"%s on device %s: %v", command, deviceID, err)
	}
	return success, evidence, nil
}

// ForgetDevice drops all cached controllers for a device, e.g. after the
// owning host reports it unavailable (spec.md §4.5 heartbeat semantics).
func (r *Registry) ForgetDevice(deviceID string) {
	r.controllersMu.Lock()
	defer r.controllersMu.Unlock()
	for k := range r.controllers {
		if k.deviceID == deviceID {
			delete(r.controllers, k)
		}
	}
}
