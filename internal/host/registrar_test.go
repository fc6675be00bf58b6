package host

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer simulates a Server's /host/register and /host/heartbeat
// endpoints, recording every call it receives.
type fakeServer struct {
	mu         sync.Mutex
	registers  []registerRequest
	heartbeats []heartbeatRequest
}

func newFakeServer() (*fakeServer, *httptest.Server) {
	fs := &fakeServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /host/register", func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		fs.mu.Lock()
		fs.registers = append(fs.registers, req)
		fs.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /host/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		var req heartbeatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		fs.mu.Lock()
		fs.heartbeats = append(fs.heartbeats, req)
		fs.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	return fs, httptest.NewServer(mux)
}

func (fs *fakeServer) registerCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.registers)
}

func (fs *fakeServer) heartbeatCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.heartbeats)
}

func TestRegistrar_Start_RegistersOnceThenHeartbeatsOnTicker(t *testing.T) {
	h := newTestHost(t)
	fs, srv := newFakeServer()
	defer srv.Close()

	reg := NewRegistrar(h, srv.URL, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.Start(ctx)

	require.Eventually(t, func() bool {
		return fs.registerCount() == 1
	}, time.Second, 5*time.Millisecond, "Start must register exactly once at startup")

	require.Eventually(t, func() bool {
		return fs.heartbeatCount() >= 2
	}, time.Second, 5*time.Millisecond, "Start must heartbeat repeatedly on the ticker")

	fs.mu.Lock()
	require.Len(t, fs.registers, 1, "the ticker must never re-trigger registration")
	require.Equal(t, "host-1", fs.registers[0].HostID)
	require.Len(t, fs.registers[0].Devices, 1)
	fs.mu.Unlock()
}

func TestRegistrar_Start_StopsHeartbeatingOnContextCancel(t *testing.T) {
	h := newTestHost(t)
	fs, srv := newFakeServer()
	defer srv.Close()

	reg := NewRegistrar(h, srv.URL, 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	reg.Start(ctx)
	require.Eventually(t, func() bool {
		return fs.heartbeatCount() >= 1
	}, time.Second, 5*time.Millisecond, "heartbeat must fire at least once before cancellation")

	cancel()
	time.Sleep(20 * time.Millisecond)
	after := fs.heartbeatCount()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, fs.heartbeatCount(), "heartbeat must stop firing once the context is canceled")
}

func TestRegistrar_Register_SurfacesTransportError(t *testing.T) {
	h := newTestHost(t)
	// No listener at this URL: Register's POST must fail.
	reg := NewRegistrar(h, "http://127.0.0.1:1", time.Second, nil)

	err := reg.Register(context.Background())
	assert.Error(t, err)
}
