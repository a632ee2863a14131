package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"arraymon/internal/config"
	"arraymon/internal/types"
)

var errStopped = errors.New("mqtt publisher stopped")

const publishTimeout = 5 * time.Second

// Publisher pushes minute batches and ingestion summaries to a broker.
type Publisher struct {
	client mqtt.Client
	cfg    config.MQTTConfig
	siteID string
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

type recordPayload struct {
	Variable  string   `json:"variable"`
	Magnitude *float64 `json:"magnitude"`
	Unit      string   `json:"unit"`
	Kind      string   `json:"kind"`
}

type batchPayload struct {
	Site      string          `json:"site"`
	Timestamp string          `json:"timestamp"`
	Records   []recordPayload `json:"records"`
}

func NewPublisher(cfg config.MQTTConfig, siteID string, logger *slog.Logger) *Publisher {
	p := &Publisher{
		cfg:    cfg,
		siteID: siteID,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.Broker, "port", cfg.Port)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect waits for the first connection. Paho keeps retrying in the
// background, so returning early on ctx does not stop reconnection.
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return errStopped
	default:
	}
	if p.IsConnected() {
		return nil
	}

	token := p.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return errStopped
		default:
		}
	}
}

// PublishBatch sends one minute summary on the configured topic with QoS 1.
func (p *Publisher) PublishBatch(records []types.AggregatedRecord) error {
	if len(records) == 0 {
		return nil
	}
	data, err := json.Marshal(buildBatchPayload(p.siteID, records))
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	return p.publish(p.cfg.Topic, false, data)
}

// PublishIngestRun sends the run summary as a retained message.
func (p *Publisher) PublishIngestRun(run types.IngestRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal ingest run: %w", err)
	}
	return p.publish(p.cfg.Topic+"/ingest", true, data)
}

func (p *Publisher) publish(topic string, retained bool, data []byte) error {
	if !p.IsConnected() {
		return errors.New("mqtt client not connected")
	}
	token := p.client.Publish(topic, 1, retained, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.logger.Debug("mqtt published", "topic", topic, "bytes", len(data))
	return nil
}

func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Disconnect is idempotent. Connect fails afterwards.
func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.client.Disconnect(250)
	p.setConnected(false)
	p.logger.Info("mqtt disconnected")
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

// buildBatchPayload maps NaN magnitudes to JSON null.
func buildBatchPayload(site string, records []types.AggregatedRecord) batchPayload {
	out := batchPayload{
		Site:      site,
		Timestamp: records[0].Time.Format(types.RecordTimeLayout),
		Records:   make([]recordPayload, 0, len(records)),
	}
	for _, rec := range records {
		rp := recordPayload{Variable: rec.Variable, Unit: rec.Unit, Kind: string(rec.Kind)}
		if !math.IsNaN(rec.Magnitude) && !math.IsInf(rec.Magnitude, 0) {
			m := rec.Magnitude
			rp.Magnitude = &m
		}
		out.Records = append(out.Records, rp)
	}
	return out
}
