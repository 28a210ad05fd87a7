package notify

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_FanOut(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	var a, b, other atomic.Int32
	_, err := m.Subscribe("emails", func() { a.Add(1) })
	require.NoError(t, err)
	_, err = m.Subscribe("emails", func() { b.Add(1) })
	require.NoError(t, err)
	_, err = m.Subscribe("reports", func() { other.Add(1) })
	require.NoError(t, err)

	require.NoError(t, m.Emit("emails"))
	require.NoError(t, m.Emit("emails"))

	assert.Equal(t, int32(2), a.Load())
	assert.Equal(t, int32(2), b.Load())
	assert.Equal(t, int32(0), other.Load(), "other channels stay quiet")
}

func TestMemory_Unsubscribe(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	var calls atomic.Int32
	unsub, err := m.Subscribe("emails", func() { calls.Add(1) })
	require.NoError(t, err)

	require.NoError(t, m.Emit("emails"))
	unsub()
	require.NoError(t, m.Emit("emails"))

	assert.Equal(t, int32(1), calls.Load())
}

func TestMemory_EmitUnknownChannel(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	assert.NoError(t, m.Emit("nobody-listens"))
}

func TestPolling_FiresOnTimer(t *testing.T) {
	p := NewPolling(10 * time.Millisecond)
	defer p.Close()

	var calls atomic.Int32
	_, err := p.Subscribe("default", func() { calls.Add(1) })
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return calls.Load() >= 2
	}, time.Second, 5*time.Millisecond, "ticker never fired subscribers")
}

func TestPolling_EmitIsNoop(t *testing.T) {
	p := NewPolling(time.Hour)
	defer p.Close()

	var calls atomic.Int32
	_, err := p.Subscribe("default", func() { calls.Add(1) })
	require.NoError(t, err)

	require.NoError(t, p.Emit("default"))
	assert.Equal(t, int32(0), calls.Load())
}

func TestValidateChannel(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		wantErr bool
	}{
		{name: "simple", channel: "emails", wantErr: false},
		{name: "with underscore and digits", channel: "queue_2", wantErr: false},
		{name: "empty", channel: "", wantErr: true},
		{name: "sql injection", channel: "x; DROP TABLE jobs", wantErr: true},
		{name: "quoted", channel: `x"y`, wantErr: true},
		{name: "hyphen", channel: "my-queue", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChannel(tt.channel)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
