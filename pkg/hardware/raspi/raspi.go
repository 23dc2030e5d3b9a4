// Package raspi drives the valve relay and the status LED through gobot's
// Raspberry Pi adaptor.
package raspi

import (
	"fmt"

	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/platforms/raspi"

	"github.com/LeonardoBeccarini/irrigation_node/pkg/hardware"
)

// gobot's RelayDriver and LedDriver are the Pins of a real board.
var (
	_ hardware.Pin = (*gpio.RelayDriver)(nil)
	_ hardware.Pin = (*gpio.LedDriver)(nil)
)

// NewBoard opens the GPIO header. Pins use the physical header numbering,
// as the raspi adaptor expects.
func NewBoard(relayPin, ledPin string) (*hardware.Board, error) {
	adaptor := raspi.NewAdaptor()
	if err := adaptor.Connect(); err != nil {
		return nil, fmt.Errorf("connect raspi adaptor: %w", err)
	}

	relay := gpio.NewRelayDriver(adaptor, relayPin)
	if err := relay.Start(); err != nil {
		_ = adaptor.Finalize()
		return nil, fmt.Errorf("start relay on pin %s: %w", relayPin, err)
	}
	led := gpio.NewLedDriver(adaptor, ledPin)
	if err := led.Start(); err != nil {
		_ = adaptor.Finalize()
		return nil, fmt.Errorf("start led on pin %s: %w", ledPin, err)
	}

	// known state at boot
	if err := relay.Off(); err != nil {
		_ = adaptor.Finalize()
		return nil, fmt.Errorf("reset relay: %w", err)
	}
	_ = led.Off()

	return hardware.NewBoard(relay, led, adaptor.Finalize), nil
}
