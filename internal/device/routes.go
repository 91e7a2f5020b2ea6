package device

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/siphog/internal/httputil"
	"github.com/banshee-data/siphog/internal/serialmux"
)

// Status is the JSON body served at /debug/device.
type Status struct {
	State         string                 `json:"state"`
	Port          string                 `json:"port,omitempty"`
	StreamingFrom *time.Time             `json:"streaming_since,omitempty"`
	UptimeSeconds float64                `json:"uptime_seconds,omitempty"`
	SledCurrentMA int                    `json:"sled_current_ma"`
	TempC         int                    `json:"temp_c"`
	LastCounter   *uint32                `json:"last_counter,omitempty"`
	LastSledMA    *float64               `json:"last_sled_current_ma,omitempty"`
	LastSledTempC *float64               `json:"last_sled_temp_c,omitempty"`
	Reader        *serialmux.ReaderStats `json:"reader,omitempty"`
}

// Status summarizes the controller for the debug routes.
func (c *Controller) Status() Status {
	st := Status{State: c.State().String(), Port: c.PortName()}
	st.SledCurrentMA, st.TempC = c.Setpoints()
	if since, uptime, ok := c.ConnectedFor(); ok {
		st.StreamingFrom = &since
		st.UptimeSeconds = uptime.Seconds()
	}
	if s, ok := c.LastSample(); ok {
		st.LastCounter = &s.Counter
		if !math.IsNaN(s.SledCurrentMA) {
			st.LastSledMA = &s.SledCurrentMA
		}
		if s.SledTempAvailable() {
			st.LastSledTempC = &s.SledTempC
		}
	}
	if rs, ok := c.ReaderStats(); ok {
		st.Reader = &rs
	}
	return st
}

// AttachAdminRoutes serves the controller status, a settings endpoint and
// the active reader's stats and sample tail under /debug/.
func (c *Controller) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("device", "device connection status", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, c.Status())
	})

	// POST current_ma and temp_c to apply new setpoints.
	debug.HandleSilentFunc("device/settings", c.handleSettings)

	debug.HandleFunc("reader-stats", "telemetry reader counters", func(w http.ResponseWriter, r *http.Request) {
		m := c.currentMux()
		if m == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, ErrNotConnected.Error())
			return
		}
		m.ServeStats(w, r)
	})

	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		m := c.currentMux()
		if m == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, ErrNotConnected.Error())
			return
		}
		m.ServeTail(w, r)
	})
}

func (c *Controller) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	currentMA, err := strconv.Atoi(r.FormValue("current_ma"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "current_ma must be an integer")
		return
	}
	tempC, err := strconv.Atoi(r.FormValue("temp_c"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "temp_c must be an integer")
		return
	}

	switch err := c.ApplySettings(currentMA, tempC); {
	case errors.Is(err, ErrInvalidSetting):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotConnected):
		httputil.WriteError(w, http.StatusConflict, err.Error())
	case err != nil:
		httputil.WriteError(w, http.StatusBadGateway, err.Error())
	default:
		httputil.WriteJSONOK(w, c.Status())
	}
}
