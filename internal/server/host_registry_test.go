package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelstreet/virtualpytest-sub002/internal/host"
)

func TestHostRegistry_RegisterThenHostForDevice(t *testing.T) {
	reg := NewHostRegistry(10*time.Millisecond, 3, nil)
	reg.Register("host-1", "http://host-1:6000", []host.DeviceInfo{
		{DeviceID: "device-1", Model: "pixel-7"},
	})

	entry, ok := reg.HostForDevice("device-1")
	require.True(t, ok)
	assert.Equal(t, "host-1", entry.HostID)
	assert.True(t, entry.Available)
}

func TestHostRegistry_HostForDevice_UnknownDevice(t *testing.T) {
	reg := NewHostRegistry(10*time.Millisecond, 3, nil)
	_, ok := reg.HostForDevice("nonexistent")
	assert.False(t, ok)
}

func TestHostRegistry_Heartbeat_UnknownHostReturnsFalse(t *testing.T) {
	reg := NewHostRegistry(10*time.Millisecond, 3, nil)
	assert.False(t, reg.Heartbeat("never-registered"))
}

func TestHostRegistry_Heartbeat_RefreshesAndRevives(t *testing.T) {
	reg := NewHostRegistry(10*time.Millisecond, 2, nil)
	reg.Register("host-1", "http://host-1:6000", []host.DeviceInfo{{DeviceID: "device-1"}})

	time.Sleep(25 * time.Millisecond)
	unavailable := reg.Sweep()
	require.Equal(t, []string{"host-1"}, unavailable)
	_, ok := reg.HostForDevice("device-1")
	assert.False(t, ok, "device of a swept host must no longer resolve")

	require.True(t, reg.Heartbeat("host-1"))
	_, ok = reg.HostForDevice("device-1")
	assert.True(t, ok, "a fresh heartbeat must revive the host")
}

func TestHostRegistry_Sweep_MarksMissedHostsUnavailable(t *testing.T) {
	reg := NewHostRegistry(5*time.Millisecond, 2, nil)
	reg.Register("host-1", "http://host-1:6000", nil)
	reg.Register("host-2", "http://host-2:6000", nil)

	time.Sleep(15 * time.Millisecond)
	require.True(t, reg.Heartbeat("host-2")) // keep host-2 alive
	unavailable := reg.Sweep()
	assert.ElementsMatch(t, []string{"host-1"}, unavailable)
}

func TestHostRegistry_StartSweeper_StopsOnContextCancel(t *testing.T) {
	reg := NewHostRegistry(5*time.Millisecond, 1, nil)
	reg.Register("host-1", "http://host-1:6000", []host.DeviceInfo{{DeviceID: "device-1"}})

	ctx, cancel := context.WithCancel(context.Background())
	reg.StartSweeper(ctx)

	require.Eventually(t, func() bool {
		_, ok := reg.HostForDevice("device-1")
		return !ok
	}, 200*time.Millisecond, 5*time.Millisecond, "sweeper must mark the host unavailable")

	cancel()
	// Re-registering after cancellation must not be undone by a lingering
	// sweeper goroutine still running past ctx.Done().
	time.Sleep(20 * time.Millisecond)
	reg.Register("host-1", "http://host-1:6000", []host.DeviceInfo{{DeviceID: "device-1"}})
	time.Sleep(20 * time.Millisecond)
	_, ok := reg.HostForDevice("device-1")
	assert.True(t, ok, "a stopped sweeper must not sweep a freshly re-registered host")
}
