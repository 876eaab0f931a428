package fixtureio

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/hubertat/fixtureio/transport"
)

// Config is the JSON document a fixture host is started with.
type Config struct {
	Name      string           `json:"name"`
	Debug     bool             `json:"debug"`
	Transport transport.Config `json:"transport"`
	GpioMap   []PinDescriptor  `json:"gpio_map"`

	Mqtt   *MqttConfig   `json:"mqtt,omitempty"`
	Influx *InfluxConfig `json:"influx,omitempty"`
}

type MqttConfig struct {
	Broker      string `json:"broker"`
	ClientId    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

type InfluxConfig struct {
	Host         string `json:"host"`
	Token        string `json:"token"`
	Organization string `json:"organization"`
	Bucket       string `json:"bucket"`
	Measurement  string `json:"measurement"`
}

func LoadConfig(path string) (*Config, error) {
	configFile, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open config file (%s)", path)
	}
	defer configFile.Close()

	cBuff, err := io.ReadAll(configFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed reading config file")
	}

	cfg := &Config{}
	err = json.Unmarshal(cBuff, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed unmarshalling json config")
	}
	return cfg, nil
}

// Open validates the gpio map, opens the configured transport and returns a
// BoardControl on top of it. Initialize is left to the caller.
func (c *Config) Open(ctx context.Context) (*BoardControl, error) {
	gpioMap, err := NewGpioMap(c.GpioMap)
	if err != nil {
		return nil, errors.Wrap(err, "invalid gpio map")
	}

	cmd, err := transport.Open(ctx, c.Transport)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s transport", c.Transport.Kind)
	}

	bc := NewBoardControl(cmd, gpioMap)
	bc.Debug = c.Debug
	return bc, nil
}
