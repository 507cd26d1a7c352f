// Package events publishes deployment step transitions over NATS for
// anything that wants to watch provisioning progress without polling the
// HTTP API. The broker is optional; a nil *Broker is a no-op publisher.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/systeminit/pluto/pkg/model"
)

type Broker struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

func New(url, subject string, logger *zap.Logger) (*Broker, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Broker{conn: nc, subject: subject, logger: logger}, nil
}

// PublishStep emits one step event on <subject>.<deploymentID>. Publish
// failures are logged and swallowed: eventing is observational and must
// never affect a pipeline.
func (b *Broker) PublishStep(ev model.StepEvent) {
	if b == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("failed to marshal step event", zap.Error(err))
		return
	}
	subj := fmt.Sprintf("%s.%s", b.subject, ev.DeploymentID)
	if err := b.conn.Publish(subj, data); err != nil {
		b.logger.Error("failed to publish step event",
			zap.String("subject", subj), zap.Error(err))
	}
}

// SubscribeSteps delivers step events for every deployment to handler.
func (b *Broker) SubscribeSteps(handler func(model.StepEvent)) error {
	_, err := b.conn.Subscribe(b.subject+".*", func(m *nats.Msg) {
		var ev model.StepEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			return
		}
		handler(ev)
	})
	return err
}

func (b *Broker) Close() {
	if b != nil && b.conn != nil {
		b.conn.Close()
	}
}
