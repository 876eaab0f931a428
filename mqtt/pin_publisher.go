package mqtt

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/hubertat/fixtureio"
)

const defaultTopicPrefix = "fixture"

// PinPublisher publishes every pin event as JSON on {Prefix}/gpio/{name}.
type PinPublisher struct {
	Prefix string

	pub Publisher
}

func NewPinPublisher(pub Publisher, prefix string) *PinPublisher {
	return &PinPublisher{Prefix: prefix, pub: pub}
}

func (pp *PinPublisher) Topic(name string) string {
	prefix := strings.TrimSuffix(pp.Prefix, "/")
	if len(prefix) == 0 {
		prefix = defaultTopicPrefix
	}
	return prefix + "/gpio/" + name
}

func (pp *PinPublisher) ObservePin(ctx context.Context, ev fixtureio.PinEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "failed to encode pin event")
	}

	err = pp.pub.Publish(pp.Topic(ev.Name), payload)
	if err != nil {
		return errors.Wrapf(err, "failed to publish %s", ev.Name)
	}
	return nil
}
