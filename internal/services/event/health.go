package event

import (
	"encoding/json"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Dipendenze opzionali: un client nil significa "non configurato" e non
// degrada lo stato.
type healthHandler struct {
	mqtt   mqtt.Client
	writer *Writer
	minErr time.Duration
}

func NewHealthHandler(m mqtt.Client, w *Writer) http.Handler {
	return &healthHandler{mqtt: m, writer: w, minErr: 30 * time.Second}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status          string   `json:"status"`
		MQTTConnected   *bool    `json:"mqtt_connected,omitempty"`
		InfluxOK        *bool    `json:"influx_ok,omitempty"`
		LastWriteErrorS *float64 `json:"last_write_error_age_sec,omitempty"`
	}
	var st status
	ok, configured := 0, 0

	if h.mqtt != nil {
		configured++
		up := h.mqtt.IsConnectionOpen()
		st.MQTTConnected = &up
		if up {
			ok++
		}
	}
	if h.writer != nil {
		configured++
		age := h.writer.LastErrorAge()
		fine := age > h.minErr
		secs := age.Seconds()
		st.InfluxOK, st.LastWriteErrorS = &fine, &secs
		if fine {
			ok++
		}
	}

	switch {
	case ok == configured:
		st.Status = "ok"
	case ok > 0:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// Handler /readyz: 200 solo se tutte le dipendenze configurate sono ok.
type readyHandler struct {
	mqtt     mqtt.Client
	writer   *Writer
	minError time.Duration
	extra    func() bool
}

// NewReadyHandler: extra, se non nil, è un controllo aggiuntivo (es. loop avviato).
func NewReadyHandler(m mqtt.Client, w *Writer, minOkErrorAge time.Duration, extra func() bool) http.Handler {
	return &readyHandler{mqtt: m, writer: w, minError: minOkErrorAge, extra: extra}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := true
	if h.mqtt != nil && !h.mqtt.IsConnectionOpen() {
		ready = false
	}
	if h.writer != nil && h.writer.LastErrorAge() <= h.minError {
		ready = false
	}
	if h.extra != nil && !h.extra() {
		ready = false
	}
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}
