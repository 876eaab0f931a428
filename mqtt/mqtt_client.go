package mqtt

import (
	"context"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"
)

const connectionTimeoutSeconds = 5
const publishTimeoutSeconds = 4

type Publisher interface {
	Publish(topic string, payload []byte) error
}

type MqttClient struct {
	ConnectTimeout time.Duration

	config     autopaho.ClientConfig
	conn       *autopaho.ConnectionManager
	stop       context.CancelFunc
	logger     *log.Logger
	connErrors atomic.Int32
}

func (mc *MqttClient) Publish(topic string, payload []byte) (err error) {
	if mc.conn == nil {
		return errors.New("mqtt client not connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeoutSeconds*time.Second)
	defer cancel()

	_, err = mc.conn.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Payload: payload,
	})
	return
}

func (mc *MqttClient) onConnUp(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
	mc.logger.Info("Connected to MQTT broker")
}

func (mc *MqttClient) onConnError(err error) {
	mc.connErrors.Add(1)
	mc.logger.Error("Received Mqtt connection error", "err", err)
}

func (mc *MqttClient) onSrvDisconnect(d *paho.Disconnect) {
	mc.logger.Info("Disconnected from MQTT broker")
}

// Connect waits up to ConnectTimeout for the broker. The connection manager
// keeps reconnecting in the background until Disconnect, unless the first
// connection fails, in which case it is stopped before returning.
func (mc *MqttClient) Connect(ctx context.Context) (err error) {
	timeout := mc.ConnectTimeout
	if timeout <= 0 {
		timeout = connectionTimeoutSeconds * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runCtx, stop := context.WithCancel(context.Background())

	mc.logger.Debug("NewConnection")
	cm, err := autopaho.NewConnection(runCtx, mc.config)
	if err != nil {
		stop()
		return errors.Wrap(err, "failed to create mqtt connection")
	}

	mc.logger.Debug("AwaitConnection")
	err = cm.AwaitConnection(ctx)
	mc.logger.Debug("AwaitConnection done", "err", err)
	if err != nil {
		stop()
		return errors.Wrap(err, "mqtt broker not reachable")
	}

	mc.conn = cm
	mc.stop = stop
	return nil
}

func (mc *MqttClient) Disconnect(ctx context.Context) error {
	if mc.conn == nil {
		return nil
	}
	err := mc.conn.Disconnect(ctx)
	mc.stop()
	mc.conn = nil
	return err
}

func (mc *MqttClient) connectErrors() int {
	return int(mc.connErrors.Load())
}

func NewMqttClient(broker string, clientId string) (mc *MqttClient, err error) {
	addr, err := url.Parse(broker)
	if err != nil {
		err = errors.Wrap(err, "failed to parse mqtt broker url")
		return
	}

	mc = &MqttClient{
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "MqttClient: ",
			Level:  log.GetLevel(),
		}),
	}

	mc.config = autopaho.ClientConfig{
		ServerUrls:            []*url.URL{addr},
		KeepAlive:             20,
		SessionExpiryInterval: 60,
		OnConnectionUp:        mc.onConnUp,
		OnConnectError:        mc.onConnError,
		ClientConfig: paho.ClientConfig{
			ClientID:           clientId,
			OnClientError:      mc.onConnError,
			OnServerDisconnect: mc.onSrvDisconnect,
		},
	}

	return
}
