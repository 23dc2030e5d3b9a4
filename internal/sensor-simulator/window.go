package sensor_simulator

import (
	"errors"
	"fmt"
	"math"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/messages"
)

// Calibrazione del sensore capacitivo: secco = valore alto, bagnato = basso.
const (
	SoilDry = 3500
	SoilWet = 1200

	MinTemperature = -10.0
	MaxTemperature = 60.0
)

// ErrInvalidSample marks a reading the probe must not report.
var ErrInvalidSample = errors.New("invalid sample")

// SoilPercent maps a raw reading linearly from SoilDry (0%) to SoilWet
// (100%), truncating, and clamps the result to 0..100.
func SoilPercent(raw int) int {
	p := (SoilDry - raw) * 100 / (SoilDry - SoilWet)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Validate rejects missing DHT readings and temperatures outside the
// plausible range.
func Validate(sd messages.SensorData) error {
	t, h := sd.Temperature, sd.Humidity
	switch {
	case math.IsNaN(t) || math.IsNaN(h):
		return fmt.Errorf("%w: DHT read failed (T=%.1f H=%.1f)", ErrInvalidSample, t, h)
	case t < MinTemperature || t > MaxTemperature:
		return fmt.Errorf("%w: temperature %.1f out of range", ErrInvalidSample, t)
	}
	return nil
}

// Window buffers the valid samples taken between two reports.
type Window struct {
	samples []messages.SensorData
}

// Add buffers sd if it is valid.
func (w *Window) Add(sd messages.SensorData) error {
	if err := Validate(sd); err != nil {
		return err
	}
	w.samples = append(w.samples, sd)
	return nil
}

func (w *Window) Len() int { return len(w.samples) }

// Flush averages the buffered samples into one report and empties the
// window. It reports false when there was nothing to average.
func (w *Window) Flush() (messages.SensorReport, bool) {
	n := len(w.samples)
	if n == 0 {
		return messages.SensorReport{}, false
	}
	var t, h float64
	soil := 0
	for _, sd := range w.samples {
		t += sd.Temperature
		h += sd.Humidity
		soil += SoilPercent(sd.SoilRaw)
	}
	w.samples = w.samples[:0]

	return messages.SensorReport{
		Temp:  round1(t / float64(n)),
		Humid: round1(h / float64(n)),
		Soil:  int(math.Round(float64(soil) / float64(n))),
	}, true
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }
