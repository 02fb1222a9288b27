package gateway

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/hootenanny/internal/broker"
	"github.com/rapidaai/hootenanny/internal/bus"
	"github.com/rapidaai/hootenanny/internal/config"
	"github.com/rapidaai/hootenanny/internal/envelope"
	"github.com/rapidaai/hootenanny/internal/hoot"
	"github.com/rapidaai/hootenanny/pkg/commons"
)

func TestBrokerDispatchInvokeReturnsToolResponse(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "garden")
	endpoints := config.BrokerEndpoints{
		Shell:     "ipc://" + base + "-shell",
		Control:   "ipc://" + base + "-control",
		IOPub:     "ipc://" + base + "-iopub",
		Heartbeat: "ipc://" + base + "-heartbeat",
		Query:     "ipc://" + base + "-query",
	}

	eventBus := bus.New(commons.NewNopLogger())
	defer eventBus.Close()
	server := broker.NewServer(commons.NewNopLogger(), eventBus, "secret")
	server.RegisterTool("echo", func(ctx context.Context, frame hoot.Frame) envelope.Envelope {
		return envelope.Success(frame.Body)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx, endpoints)
	time.Sleep(50 * time.Millisecond)

	client := broker.NewClient(endpoints, "secret")
	dispatch := NewBrokerDispatch(client, []ToolDescriptor{{Name: "echo"}})

	assert.Equal(t, "hootenanny", dispatch.Name())
	tools, err := dispatch.Tools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 1)

	resp, err := dispatch.Invoke(context.Background(), "echo", []byte(`{"hi":"there"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"hi":"there"}`, string(resp))
}

func TestBrokerDispatchInvokeSurfacesToolError(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "garden")
	endpoints := config.BrokerEndpoints{
		Shell:     "ipc://" + base + "-shell",
		Control:   "ipc://" + base + "-control",
		IOPub:     "ipc://" + base + "-iopub",
		Heartbeat: "ipc://" + base + "-heartbeat",
		Query:     "ipc://" + base + "-query",
	}

	eventBus := bus.New(commons.NewNopLogger())
	defer eventBus.Close()
	server := broker.NewServer(commons.NewNopLogger(), eventBus, "secret")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx, endpoints)
	time.Sleep(50 * time.Millisecond)

	client := broker.NewClient(endpoints, "secret")
	dispatch := NewBrokerDispatch(client, nil)

	_, err := dispatch.Invoke(context.Background(), "nonexistent", nil)
	assert.Error(t, err)
}
