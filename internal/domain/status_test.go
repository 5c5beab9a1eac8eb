package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentStatus_Severity(t *testing.T) {
	assert.True(t, ComponentStatusDown.MoreSevereThan(ComponentStatusDegraded))
	assert.True(t, ComponentStatusDegraded.MoreSevereThan(ComponentStatusUp))
	assert.False(t, ComponentStatusUp.MoreSevereThan(ComponentStatusUp))
	assert.Equal(t, 0, ComponentStatus("Sideways").Severity())
}

func TestMaxStatus(t *testing.T) {
	assert.Equal(t, ComponentStatusUp, MaxStatus())
	assert.Equal(t, ComponentStatusDegraded, MaxStatus(ComponentStatusUp, ComponentStatusDegraded, ComponentStatusUp))
	assert.Equal(t, ComponentStatusDown, MaxStatus(ComponentStatusDown, ComponentStatusDegraded))
}

func TestParseComponentStatus(t *testing.T) {
	for _, value := range []string{"Up", "Degraded", "Down"} {
		s, err := ParseComponentStatus(value)
		require.NoError(t, err)
		assert.Equal(t, value, string(s))
	}

	_, err := ParseComponentStatus("down")
	assert.Error(t, err)
}

func TestMessageType(t *testing.T) {
	assert.True(t, MessageTypeStart.IsValid())
	assert.True(t, MessageTypeManual.IsValid())
	assert.False(t, MessageType("Auto").IsValid())

	m := Message{Type: MessageTypeManual}
	assert.True(t, m.IsManual())
}
