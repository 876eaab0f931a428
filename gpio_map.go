package fixtureio

import (
	"strings"

	"github.com/pkg/errors"
)

type Direction string

const (
	DirOut Direction = "out"
	DirIn  Direction = "in"
)

func (d Direction) valid() bool {
	return d == DirOut || d == DirIn
}

// PinDescriptor describes one logical channel of the fixture.
type PinDescriptor struct {
	Name       string    `json:"name"`
	GpioNum    uint16    `json:"gpio_num"`
	Dir        Direction `json:"dir"`
	ActiveHigh bool      `json:"active_hi"`
}

// ElectricalLevel converts a logical state into the level driven on the pin.
func (pd PinDescriptor) ElectricalLevel(active bool) bool {
	return active == pd.ActiveHigh
}

// LogicalState converts a level read from the pin into its logical state.
func (pd PinDescriptor) LogicalState(level bool) bool {
	return level == pd.ActiveHigh
}

// InactiveLevel is the level a pin is configured with before first use.
func (pd PinDescriptor) InactiveLevel() bool {
	return !pd.ActiveHigh
}

// GpioMap is the ordered, read-only list of pins of one board.
type GpioMap struct {
	pins []PinDescriptor
}

// NewGpioMap validates every record and copies them into a GpioMap. Names are
// expected to be unique; on duplicates lookups return the first match.
func NewGpioMap(pins []PinDescriptor) (GpioMap, error) {
	gm := GpioMap{pins: make([]PinDescriptor, 0, len(pins))}

	for ix, pin := range pins {
		if len(strings.TrimSpace(pin.Name)) == 0 {
			return GpioMap{}, errors.Errorf("gpio map entry %d: name is empty", ix)
		}
		pin.Dir = Direction(strings.ToLower(string(pin.Dir)))
		if !pin.Dir.valid() {
			return GpioMap{}, errors.Errorf("gpio map entry %d (%s): dir must be \"in\" or \"out\", got %q", ix, pin.Name, pin.Dir)
		}
		gm.pins = append(gm.pins, pin)
	}

	return gm, nil
}

func (gm GpioMap) Len() int {
	return len(gm.pins)
}

// Pins returns a copy of the descriptors in map order.
func (gm GpioMap) Pins() []PinDescriptor {
	out := make([]PinDescriptor, len(gm.pins))
	copy(out, gm.pins)
	return out
}

func (gm GpioMap) Find(name string) (PinDescriptor, bool) {
	for _, pin := range gm.pins {
		if pin.Name == name {
			return pin, true
		}
	}
	return PinDescriptor{}, false
}

// Duplicates lists names that appear more than once.
func (gm GpioMap) Duplicates() (names []string) {
	seen := make(map[string]int)
	for _, pin := range gm.pins {
		seen[pin.Name]++
		if seen[pin.Name] == 2 {
			names = append(names, pin.Name)
		}
	}
	return
}
