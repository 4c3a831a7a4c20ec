package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseEvent_Implementation(t *testing.T) {
	factory := NewEventFactory("ocpi-node-1")
	metadata := factory.Metadata("2.2.1", "req-1", "corr-1")

	event := NewBaseEvent(EventTypeCommandSent, "cmd-1", "START_SESSION", EventSeverityInfo, metadata)

	assert.NotEmpty(t, event.GetID())
	assert.Equal(t, EventTypeCommandSent, event.GetType())
	assert.Equal(t, "cmd-1", event.GetCommandID())
	assert.Equal(t, "START_SESSION", event.GetCommandType())
	assert.Equal(t, EventSeverityInfo, event.GetSeverity())
	assert.Equal(t, metadata, event.GetMetadata())
	assert.WithinDuration(t, time.Now(), event.GetTimestamp(), time.Second)
}

func TestEventFactory_Metadata(t *testing.T) {
	factory := NewEventFactory("node")

	full := factory.Metadata("3.0", "r", "c")
	assert.Equal(t, "node", full.Source)
	require.NotNil(t, full.RequestID)
	require.NotNil(t, full.CorrelationID)
	assert.Equal(t, "r", *full.RequestID)
	assert.Equal(t, "c", *full.CorrelationID)

	bare := factory.Metadata("3.0", "", "")
	assert.Nil(t, bare.RequestID)
	assert.Nil(t, bare.CorrelationID)
}

func TestCommandSentEvent(t *testing.T) {
	factory := NewEventFactory("node")
	target := PartyInfo{CountryCode: "NL", PartyID: "CPO", Endpoint: "https://cpo.example.com/ocpi/2.2.1/commands"}

	event := factory.CreateCommandSentEvent("cmd-1", "STOP_SESSION", target, "https://emsp/cb", factory.Metadata("2.2.1", "", ""))

	assert.Equal(t, EventTypeCommandSent, event.GetType())
	payload, ok := event.GetPayload().(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, target, payload["target"])

	data, err := event.ToJSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "command.sent", decoded["type"])
	assert.Equal(t, "cmd-1", decoded["command_id"])
	assert.Equal(t, "https://emsp/cb", decoded["response_url"])
}

func TestCommandAcknowledgedEvent_Severity(t *testing.T) {
	factory := NewEventFactory("node")

	accepted := factory.CreateCommandAcknowledgedEvent("c", "RESERVE_NOW", AckInfo{Result: "ACCEPTED", Timeout: 30 * time.Second}, Metadata{})
	assert.Equal(t, EventSeverityInfo, accepted.GetSeverity())
	assert.Equal(t, AckInfo{Result: "ACCEPTED", Timeout: 30 * time.Second}, accepted.GetPayload())

	rejected := factory.CreateCommandAcknowledgedEvent("c", "RESERVE_NOW", AckInfo{Result: "REJECTED"}, Metadata{})
	assert.Equal(t, EventSeverityWarning, rejected.GetSeverity())
}

func TestCommandResultEvent_Types(t *testing.T) {
	factory := NewEventFactory("node")

	tests := []struct {
		resultType   string
		wantType     EventType
		wantSeverity EventSeverity
	}{
		{"SUCCESS", EventTypeCommandResult, EventSeverityInfo},
		{"FAILED", EventTypeCommandResult, EventSeverityWarning},
		{"TIMEOUT", EventTypeCommandTimeout, EventSeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.resultType, func(t *testing.T) {
			event := factory.CreateCommandResultEvent("c", "START_SESSION", ResultInfo{ResultType: tt.resultType}, Metadata{})
			assert.Equal(t, tt.wantType, event.GetType())
			assert.Equal(t, tt.wantSeverity, event.GetSeverity())
		})
	}
}

func TestCommandFailedAndStaleEvents(t *testing.T) {
	factory := NewEventFactory("node")

	failed := factory.CreateCommandFailedEvent("c", "UNLOCK_CONNECTOR", ErrorInfo{Kind: FailureNoRoute, Message: "No remote URL available"}, Metadata{})
	assert.Equal(t, EventTypeCommandFailed, failed.GetType())
	assert.Equal(t, EventSeverityError, failed.GetSeverity())
	assert.Equal(t, FailureNoRoute, failed.GetPayload().(ErrorInfo).Kind)

	stale := factory.CreateStaleResultEvent("c", "UNLOCK_CONNECTOR", ResultInfo{ResultType: "SUCCESS"}, "no pending command", Metadata{})
	assert.Equal(t, EventTypeStaleResult, stale.GetType())

	data, err := stale.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), "no pending command")
}

func TestEvent_InterfaceCompliance(t *testing.T) {
	factory := NewEventFactory("node")
	var list []Event
	list = append(list,
		factory.CreateCommandSentEvent("c", "T", PartyInfo{}, "", Metadata{}),
		factory.CreateCommandAcknowledgedEvent("c", "T", AckInfo{}, Metadata{}),
		factory.CreateCommandResultEvent("c", "T", ResultInfo{}, Metadata{}),
		factory.CreateCommandFailedEvent("c", "T", ErrorInfo{}, Metadata{}),
		factory.CreateStaleResultEvent("c", "T", ResultInfo{}, "", Metadata{}),
	)
	for _, e := range list {
		_, err := e.ToJSON()
		assert.NoError(t, err)
	}
}
