package server

import (
	"net/http"

	"github.com/angelstreet/virtualpytest-sub002/internal/apperr"
	"github.com/angelstreet/virtualpytest-sub002/internal/host"
	"github.com/angelstreet/virtualpytest-sub002/internal/httpapi"
)

// hostRegisterRequest mirrors the payload internal/host's Registrar posts
// (spec.md §4.5: "{host_id, host_url, devices: [{device_id, model,
// capabilities}]}"). Despite the /host/ prefix in spec.md §6.2's path
// naming, the registration and heartbeat handlers live on the Server: the
// Server is what owns the (device_id -> host_url) map these calls feed,
// mirroring how the teacher framework's discovery registration handlers
// live on the side that maintains the registry, not the side that
// advertises into it.
type hostRegisterRequest struct {
	HostID  string            `json:"host_id"`
	HostURL string            `json:"host_url"`
	Devices []host.DeviceInfo `json:"devices"`
}

type hostHeartbeatRequest struct {
	HostID string `json:"host_id"`
}

func (s *Server) handleHostRegister(w http.ResponseWriter, r *http.Request) {
	var req hostRegisterRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, s.Log, "server.hostRegister", err)
		return
	}
	if req.HostID == "" || req.HostURL == "" {
		httpapi.WriteError(w, s.Log, "server.hostRegister",
			apperr.Wrapf("server.hostRegister", "ValidationError", apperr.ErrValidation, "host_id and host_url are required"))
		return
	}
	s.Registry.Register(req.HostID, req.HostURL, req.Devices)
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"registered": true})
}

func (s *Server) handleHostHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req hostHeartbeatRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, s.Log, "server.hostHeartbeat", err)
		return
	}
	if !s.Registry.Heartbeat(req.HostID) {
		httpapi.WriteError(w, s.Log, "server.hostHeartbeat",
			apperr.New("server.hostHeartbeat", "NotFound", apperr.ErrNotFound))
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"acknowledged": true})
}
