package connectivity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmolhoek/papertrail-sub001/internal/wifi"
)

func TestMonitorFirstTickEstablishesBaseline(t *testing.T) {
	ctrl := &fakeControl{}
	ctrl.connectedTo("HomeNet")
	mon := NewMonitor(ctrl, time.Minute, zap.NewNop())

	notified := 0
	mon.Subscribe(func(bool, string) { notified++ })

	mon.tick(context.Background())
	assert.Zero(t, notified, "the baseline tick has no edge to report")
}

func TestMonitorReportsEdgesOnly(t *testing.T) {
	ctrl := &fakeControl{}
	mon := NewMonitor(ctrl, time.Minute, zap.NewNop())

	type edge struct {
		connected bool
		ssid      string
	}
	var edges []edge
	mon.Subscribe(func(connected bool, ssid string) {
		edges = append(edges, edge{connected, ssid})
	})

	ctx := context.Background()
	mon.tick(ctx) // baseline: disconnected
	mon.tick(ctx) // still disconnected, no edge

	ctrl.connectedTo("HomeNet")
	mon.tick(ctx)
	mon.tick(ctx) // still connected, no edge

	ctrl.disconnected()
	mon.tick(ctx)

	require.Len(t, edges, 2)
	assert.Equal(t, edge{true, "HomeNet"}, edges[0])
	assert.Equal(t, edge{false, ""}, edges[1])
}

func TestMonitorSkipsFailedQueries(t *testing.T) {
	ctrl := &fakeControl{
		currentFn: func(context.Context) (*wifi.Connection, error) {
			return nil, wifi.ErrUnavailable
		},
	}
	mon := NewMonitor(ctrl, time.Minute, zap.NewNop())

	notified := 0
	mon.Subscribe(func(bool, string) { notified++ })

	mon.tick(context.Background())
	assert.Zero(t, notified)
}

func TestMonitorUnsubscribe(t *testing.T) {
	ctrl := &fakeControl{}
	mon := NewMonitor(ctrl, time.Minute, zap.NewNop())

	notified := 0
	unsub := mon.Subscribe(func(bool, string) { notified++ })

	ctx := context.Background()
	mon.tick(ctx)
	unsub()
	ctrl.connectedTo("HomeNet")
	mon.tick(ctx)

	assert.Zero(t, notified)
}
