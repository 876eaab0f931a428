package fixtureio

import (
	"encoding/json"
	"testing"
)

func TestNewGpioMapValidation(t *testing.T) {
	t.Run("empty name", func(t *testing.T) {
		_, err := NewGpioMap([]PinDescriptor{{Name: " ", GpioNum: 1, Dir: DirOut}})
		if err == nil {
			t.Error("expected error for empty name")
		}
	})

	t.Run("bad dir", func(t *testing.T) {
		_, err := NewGpioMap([]PinDescriptor{{Name: "X", GpioNum: 1, Dir: "inout"}})
		if err == nil {
			t.Error("expected error for dir inout")
		}
	})

	t.Run("missing dir", func(t *testing.T) {
		_, err := NewGpioMap([]PinDescriptor{{Name: "X", GpioNum: 1}})
		if err == nil {
			t.Error("expected error for missing dir")
		}
	})

	t.Run("dir is case insensitive", func(t *testing.T) {
		gm, err := NewGpioMap([]PinDescriptor{{Name: "X", GpioNum: 1, Dir: "OUT"}})
		if err != nil {
			t.Fatalf("NewGpioMap returned err: %v", err)
		}
		pin, _ := gm.Find("X")
		if pin.Dir != DirOut {
			t.Errorf("got dir %q want %q", pin.Dir, DirOut)
		}
	})
}

func TestGpioMapFromJson(t *testing.T) {
	raw := `[
		{"name": "RELAY_1", "gpio_num": 5, "dir": "out", "active_hi": true},
		{"name": "RELAY_2", "gpio_num": 6, "dir": "out"},
		{"name": "PWR_GOOD", "gpio_num": 14, "dir": "in", "active_hi": false}
	]`

	pins := []PinDescriptor{}
	if err := json.Unmarshal([]byte(raw), &pins); err != nil {
		t.Fatalf("unmarshal returned err: %v", err)
	}
	gm, err := NewGpioMap(pins)
	if err != nil {
		t.Fatalf("NewGpioMap returned err: %v", err)
	}

	if gm.Len() != 3 {
		t.Fatalf("got %d pins want 3", gm.Len())
	}

	relay2, found := gm.Find("RELAY_2")
	assertBools(t, found, true)
	// active_hi defaults to false
	assertBools(t, relay2.ActiveHigh, false)
	if relay2.GpioNum != 6 {
		t.Errorf("got gpio %d want 6", relay2.GpioNum)
	}

	_, found = gm.Find("relay_2")
	assertBools(t, found, false)
}

func TestGpioMapFirstMatchWins(t *testing.T) {
	gm, err := NewGpioMap([]PinDescriptor{
		{Name: "DUP", GpioNum: 1, Dir: DirOut},
		{Name: "DUP", GpioNum: 2, Dir: DirIn},
		{Name: "ONE", GpioNum: 3, Dir: DirIn},
	})
	if err != nil {
		t.Fatalf("NewGpioMap returned err: %v", err)
	}

	pin, _ := gm.Find("DUP")
	if pin.GpioNum != 1 {
		t.Errorf("got gpio %d want 1", pin.GpioNum)
	}

	dups := gm.Duplicates()
	if len(dups) != 1 || dups[0] != "DUP" {
		t.Errorf("got duplicates %v want [DUP]", dups)
	}
}

func TestGpioMapIsImmutable(t *testing.T) {
	src := []PinDescriptor{{Name: "A", GpioNum: 1, Dir: DirOut}}
	gm, _ := NewGpioMap(src)

	src[0].GpioNum = 99
	pins := gm.Pins()
	pins[0].GpioNum = 77

	pin, _ := gm.Find("A")
	if pin.GpioNum != 1 {
		t.Errorf("map changed from the outside, gpio %d", pin.GpioNum)
	}
}

func TestPolarityHelpers(t *testing.T) {
	cases := []struct {
		activeHigh bool
		active     bool
		level      bool
	}{
		{true, true, true},
		{true, false, false},
		{false, true, false},
		{false, false, true},
	}

	for _, c := range cases {
		pin := PinDescriptor{ActiveHigh: c.activeHigh}
		assertBools(t, pin.ElectricalLevel(c.active), c.level)
		assertBools(t, pin.LogicalState(c.level), c.active)
	}

	assertBools(t, PinDescriptor{ActiveHigh: true}.InactiveLevel(), false)
	assertBools(t, PinDescriptor{ActiveHigh: false}.InactiveLevel(), true)
}
