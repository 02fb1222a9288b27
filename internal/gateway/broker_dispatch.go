package gateway

import (
	"context"
	"fmt"

	"github.com/rapidaai/hootenanny/internal/broker"
	"github.com/rapidaai/hootenanny/internal/envelope"
)

// BrokerDispatch adapts a broker.Client into the Dispatch contract, so a
// gateway process only ever depends on this package, not on broker's wire
// details.
type BrokerDispatch struct {
	client *broker.Client
	tools  []ToolDescriptor
}

func NewBrokerDispatch(client *broker.Client, tools []ToolDescriptor) *BrokerDispatch {
	return &BrokerDispatch{client: client, tools: tools}
}

func (d *BrokerDispatch) Name() string { return "hootenanny" }

func (d *BrokerDispatch) Tools(ctx context.Context) ([]ToolDescriptor, error) {
	return d.tools, nil
}

func (d *BrokerDispatch) Invoke(ctx context.Context, tool string, request []byte) ([]byte, error) {
	env, err := d.client.Request(ctx, tool, request)
	if err != nil {
		return nil, fmt.Errorf("invoking tool %s: %w", tool, err)
	}
	if env.Kind == envelope.KindError {
		return nil, env.Error
	}
	return env.Response, nil
}
