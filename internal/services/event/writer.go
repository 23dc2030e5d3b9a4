package event

import (
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/LeonardoBeccarini/irrigation_node/pkg/log"
)

// Writer incapsula WriteAPI e traccia l'ultimo errore di scrittura per /healthz e /readyz.
type Writer struct {
	api     api.WriteAPI
	now     func() time.Time
	mu      sync.RWMutex
	lastErr time.Time
	counts  map[string]int64
}

// NewWriter inizializza il writer e attiva il listener degli errori asincroni di Influx.
func NewWriter(w api.WriteAPI) *Writer {
	return newWriter(w, time.Now)
}

func newWriter(w api.WriteAPI, now func() time.Time) *Writer {
	ww := &Writer{
		api:     w,
		now:     now,
		lastErr: now().Add(-24 * time.Hour), // di default "lontano nel tempo"
		counts:  make(map[string]int64),
	}
	errs := w.Errors()
	go func() {
		logger := log.WithComponent("history")
		for err := range errs {
			if err != nil {
				ww.mu.Lock()
				ww.lastErr = ww.now()
				ww.mu.Unlock()
				logger.Warn().Err(err).Msg("influx write error")
			}
		}
	}()
	return ww
}

// Write accoda il punto (scrittura asincrona) e aggiorna il contatore.
func (w *Writer) Write(evt CommonEvent) {
	if w == nil {
		return
	}
	w.api.WritePoint(EventToPoint(evt))
	w.MarkIngest(evt.EventType)
}

// Flush forza l'invio del buffer.
func (w *Writer) Flush() {
	if w == nil {
		return
	}
	w.api.Flush()
}

// LastErrorAge ritorna da quanto tempo non si verificano errori di scrittura.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return w.now().Sub(t)
}

// MarkIngest incrementa un contatore interno per tipo evento.
func (w *Writer) MarkIngest(eventType string) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.counts[eventType]++
	w.mu.Unlock()
}

// Count permette di leggere il contatore per tipo evento.
func (w *Writer) Count(eventType string) int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	c := w.counts[eventType]
	w.mu.RUnlock()
	return c
}
