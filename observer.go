package fixtureio

import (
	"context"
	"time"
)

// PinEvent is emitted after a named pin was driven or read successfully.
type PinEvent struct {
	Name    string    `json:"name"`
	GpioNum uint16    `json:"gpio_num"`
	Dir     Direction `json:"dir"`
	Active  bool      `json:"active"`
	Level   bool      `json:"level"`
	At      time.Time `json:"at"`
}

type PinObserver interface {
	ObservePin(ctx context.Context, ev PinEvent) error
}

// ObserverFunc adapts a plain function to PinObserver.
type ObserverFunc func(ctx context.Context, ev PinEvent) error

func (f ObserverFunc) ObservePin(ctx context.Context, ev PinEvent) error {
	return f(ctx, ev)
}
