package recorder

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/pkg/errors"

	"github.com/hubertat/fixtureio"
)

const defaultMeasurement = "fixture_gpio"

// InfluxRecorder writes one point per pin event, so a test run leaves a
// timeline of every relay switched and every input sampled.
type InfluxRecorder struct {
	Host         string
	Organization string
	Bucket       string
	Measurement  string
	Token        string

	// Board tags every point, usually the fixture name.
	Board string

	client   influxdb2.Client
	writeApi api.WriteAPIBlocking
}

func (ir *InfluxRecorder) Setup() error {
	if len(ir.Host) == 0 || len(ir.Bucket) == 0 {
		return errors.New("InfluxRecorder: Host and Bucket are required")
	}
	if len(ir.Measurement) == 0 {
		ir.Measurement = defaultMeasurement
	}

	ir.client = influxdb2.NewClient(ir.Host, ir.Token)
	ir.writeApi = ir.client.WriteAPIBlocking(ir.Organization, ir.Bucket)
	return nil
}

func (ir *InfluxRecorder) Close() error {
	if ir.client != nil {
		ir.client.Close()
	}
	return nil
}

func (ir *InfluxRecorder) ObservePin(ctx context.Context, ev fixtureio.PinEvent) error {
	if ir.writeApi == nil {
		return errors.New("InfluxRecorder not set up")
	}

	tags := map[string]string{
		"pin": ev.Name,
		"dir": string(ev.Dir),
	}
	if len(ir.Board) > 0 {
		tags["board"] = ir.Board
	}

	point := influxdb2.NewPoint(ir.Measurement, tags, map[string]interface{}{
		"active":   ev.Active,
		"level":    ev.Level,
		"gpio_num": int64(ev.GpioNum),
	}, ev.At)

	err := ir.writeApi.WritePoint(ctx, point)
	if err != nil {
		return errors.Wrapf(err, "failed to write point for %s", ev.Name)
	}
	return nil
}
