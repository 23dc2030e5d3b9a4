package sensor_simulator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_node/internal/model/messages"
)

// ====== Tunables ======
const (
	// gainPerMin: +0.6% per minuto con la valvola aperta (in [0..1]).
	gainPerMin = 0.006

	// defaultSeed: moisture iniziale se SoilGrids non risponde.
	defaultSeed = 0.30

	// SoilGridsBaseURL: una sola fetch all'avvio, mai ad ogni tick.
	SoilGridsBaseURL = "https://rest.isric.org"
	soilGridsPath    = "/soilgrids/v2.0/properties/query"
)

// DataGenerator simulates the DHT11 and the capacitive soil probe. Moisture
// rises while the valve is open and decays while it is closed.
type DataGenerator struct {
	mu          sync.Mutex
	now         func() time.Time
	rng         *rand.Rand
	seeded      bool
	last        time.Time
	moisture    float64 // [0..1]
	decayPerMin float64
	faultRate   float64 // probability of a failed DHT read
}

type GeneratorOption func(*DataGenerator)

func WithClock(now func() time.Time) GeneratorOption {
	return func(g *DataGenerator) { g.now = now }
}

func WithRand(r *rand.Rand) GeneratorOption {
	return func(g *DataGenerator) { g.rng = r }
}

// WithFaultRate makes a share of the readings come back as NaN, like a
// DHT11 that misses its timing window.
func WithFaultRate(p float64) GeneratorOption {
	return func(g *DataGenerator) { g.faultRate = p }
}

// NewDataGenerator crea un generatore con il decadimento (valvola chiusa) per minuto.
func NewDataGenerator(decayPerMin float64, opts ...GeneratorOption) *DataGenerator {
	g := &DataGenerator{
		now:         time.Now,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		decayPerMin: math.Max(0, decayPerMin),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Seed sets the starting moisture in [0..1]. Later calls are ignored.
func (g *DataGenerator) Seed(m float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seedLocked(m)
}

func (g *DataGenerator) seedLocked(m float64) {
	if g.seeded {
		return
	}
	g.moisture = clamp01(m)
	g.last = g.now()
	g.seeded = true
}

// SeedFromSoilGrids seeds the moisture from the SoilGrids water content at
// lat/lon, falling back to 30%. client must have SoilGridsBaseURL (or a
// stand-in) as base URL.
func (g *DataGenerator) SeedFromSoilGrids(ctx context.Context, client *resty.Client, lat, lon float64) error {
	seed := defaultSeed
	var err error
	if lat != 0 || lon != 0 {
		var m float64
		if m, err = fetchSoilMoisture(ctx, client, lat, lon); err == nil {
			seed = m
		}
	}
	g.Seed(seed)
	return err
}

// Next advances the simulation to now and returns one raw sample.
func (g *DataGenerator) Next(sensor *entities.Sensor) messages.SensorData {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seedLocked(defaultSeed)
	now := g.now()
	dtMin := math.Max(0, now.Sub(g.last).Minutes())

	switch sensor.State {
	case entities.StateOn:
		g.moisture = clamp01(g.moisture + gainPerMin*dtMin)
	default:
		g.moisture = clamp01(g.moisture - g.decayPerMin*dtMin)
	}
	g.last = now

	temp, humid := g.climate(now)
	raw := float64(SoilDry) - g.moisture*float64(SoilDry-SoilWet) + g.rng.NormFloat64()*15

	return messages.SensorData{
		SensorID:    sensor.ID,
		Temperature: temp,
		Humidity:    humid,
		SoilRaw:     int(math.Round(raw)),
		Timestamp:   now.UTC(),
	}
}

// climate: ciclo giornaliero tropicale, minimo all'alba e picco nel primo pomeriggio.
func (g *DataGenerator) climate(now time.Time) (float64, float64) {
	if g.faultRate > 0 && g.rng.Float64() < g.faultRate {
		return math.NaN(), math.NaN()
	}
	hour := float64(now.Hour()) + float64(now.Minute())/60
	temp := 27 + 5*math.Sin(2*math.Pi*(hour-9)/24) + g.rng.NormFloat64()*0.3
	humid := 75 - 2.5*(temp-27) + g.rng.NormFloat64()
	return temp, math.Min(100, math.Max(20, humid))
}

// ===== SoilGrids =====

type soilGridsResponse struct {
	Properties struct {
		Layers []struct {
			Name   string `json:"name"`
			Depths []struct {
				Values map[string]*float64 `json:"values"`
			} `json:"depths"`
		} `json:"layers"`
	} `json:"properties"`
}

func fetchSoilMoisture(ctx context.Context, client *resty.Client, lat, lon float64) (float64, error) {
	var out soilGridsResponse
	resp, err := client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lat":      fmt.Sprintf("%f", lat),
			"lon":      fmt.Sprintf("%f", lon),
			"property": "wv0010",
		}).
		SetHeader("User-Agent", "irrigation-sensor-node/1.0").
		SetResult(&out).
		Get(soilGridsPath)
	if err != nil {
		return -1, fmt.Errorf("soilgrids: %w", err)
	}
	if !resp.IsSuccess() {
		return -1, fmt.Errorf("soilgrids HTTP %d", resp.StatusCode())
	}
	for _, layer := range out.Properties.Layers {
		for _, d := range layer.Depths {
			for _, k := range []string{"Q0.5", "mean", "Q0.95", "Q0.05"} {
				if v := d.Values[k]; v != nil {
					return normalizeWV(*v), nil
				}
			}
		}
	}
	return -1, fmt.Errorf("soilgrids: moisture field not found")
}

// normalizeWV porta i valori "wv****" in [0..1]; SoilGrids li espone in millesimi (420 => 0.420).
func normalizeWV(x float64) float64 {
	if x > 1.5 {
		x /= 1000
	}
	return clamp01(x)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
