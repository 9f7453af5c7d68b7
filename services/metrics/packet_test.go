package metricsvc

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mitihani/core/packet"
)

func TestPacketMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPacketMetrics(registry)
	require.NoError(t, err)

	m.PacketCreated()
	m.PacketCreated()
	m.HandoverRecorded(packet.StatusPacked, packet.ResultAccepted, 2*time.Millisecond)
	m.HandoverRecorded(packet.StatusPacked, packet.ResultRejected, time.Millisecond)
	m.HandoverRecorded(packet.StatusMissing, packet.ResultAccepted, time.Millisecond)
	m.HandoverRecorded(packet.StatusDamaged, packet.ResultInvalid, time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.packetsCreated))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.handovers.WithLabelValues("packed", "accepted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.handovers.WithLabelValues("packed", "rejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.incidents.WithLabelValues("missing")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.incidents.WithLabelValues("damaged")))
	assert.Equal(t, 4, testutil.CollectAndCount(m.handovers))
}

func TestPacketMetrics_UnknownStatus(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPacketMetrics(registry)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		m.HandoverRecorded(packet.Status(fmt.Sprintf("junk-%d", i)), packet.ResultInvalid, time.Millisecond)
	}
	m.HandoverRecorded("", packet.ResultInvalid, time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(m.handovers))
	assert.Equal(t, float64(51), testutil.ToFloat64(m.handovers.WithLabelValues("unknown", "invalid")))
	assert.Equal(t, 0, testutil.CollectAndCount(m.incidents))
}

func TestNewPacketMetrics_DuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewPacketMetrics(registry)
	require.NoError(t, err)

	_, err = NewPacketMetrics(registry)
	assert.Error(t, err)
}
