package messages

import "time"

// SensorData is one sample taken by the sensor node.
type SensorData struct {
	SensorID    string    `json:"sensor_id"`
	Temperature float64   `json:"temperature"` // °C
	Humidity    float64   `json:"humidity"`    // %RH
	SoilRaw     int       `json:"soil_raw"`    // capacitive ADC reading
	Timestamp   time.Time `json:"timestamp"`
}

// SensorReport is the body posted to the receive-sensor endpoint.
type SensorReport struct {
	Temp  float64 `json:"temp"`
	Humid float64 `json:"humid"`
	Soil  int     `json:"soil"` // 0-100 %
}
