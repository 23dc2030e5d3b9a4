package entities

// ValveState is the on/off state of the irrigation valve.
type ValveState string

const (
	StateOff ValveState = "off"
	StateOn  ValveState = "on"
)

// Sensor is the probe driven by the companion sensor node.
type Sensor struct {
	ID     string     `json:"id"`      // unique sensor identifier
	NodeID string     `json:"node_id"` // valve node the probe sits next to
	State  ValveState `json:"state"`   // last valve state seen on the bus
}
