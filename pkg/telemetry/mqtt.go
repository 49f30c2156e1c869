// Optional MQTT telemetry publisher.
//
// The transport tap enqueues into a channel and a worker goroutine does
// the broker I/O, so a slow or absent broker never touches the tick
// loop.
//
// Copyright (C) 2026  roastctl authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package telemetry

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"roastctl/pkg/log"
)

// DefaultMQTTTopic is where roasterState snapshots land unless
// configured otherwise.
const DefaultMQTTTopic = "roastctl/telemetry"

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttQueueDepth     = 128
)

// MQTTPublisher forwards outbound telemetry messages to a broker.
type MQTTPublisher struct {
	client paho.Client
	topic  string
	logger *log.Logger

	queue chan []byte
	done  chan struct{}
}

// NewMQTTPublisher connects to the broker and starts the publish
// worker. broker is a URI like "tcp://127.0.0.1:1883".
func NewMQTTPublisher(broker, clientID, topic string) (*MQTTPublisher, error) {
	if topic == "" {
		topic = DefaultMQTTTopic
	}
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt: connection timeout to %s", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", broker, err)
	}

	p := &MQTTPublisher{
		client: client,
		topic:  topic,
		logger: log.New("mqtt"),
		queue:  make(chan []byte, mqttQueueDepth),
		done:   make(chan struct{}),
	}
	go p.worker()
	return p, nil
}

// Publish enqueues one serialized telemetry message. Never blocks: on
// a full queue the message is dropped and the drop logged, which is an
// acceptable loss for a mirror feed.
func (p *MQTTPublisher) Publish(msg []byte) {
	cp := make([]byte, len(msg))
	copy(cp, msg)
	select {
	case p.queue <- cp:
	default:
		p.logger.Debug("publish queue full, dropping message")
	}
}

func (p *MQTTPublisher) worker() {
	for {
		select {
		case msg := <-p.queue:
			token := p.client.Publish(p.topic, 0, false, msg)
			if !token.WaitTimeout(mqttPublishTimeout) {
				p.logger.Warn("publish timeout")
				continue
			}
			if err := token.Error(); err != nil {
				p.logger.Warn("publish: %v", err)
			}
		case <-p.done:
			return
		}
	}
}

// Close stops the worker and disconnects from the broker.
func (p *MQTTPublisher) Close() {
	select {
	case <-p.done:
		return
	default:
		close(p.done)
	}
	p.client.Disconnect(1000)
}
