package vr

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayEvent_IsBroadcast(t *testing.T) {
	for _, eventType := range []EventType{
		EventConnect,
		EventDisconnect,
		EventActivate,
		EventDeactivate,
		EventBlur,
		EventFocus,
		EventPresentChange,
	} {
		assert.Truef(t, DisplayEvent{Type: eventType}.IsBroadcast(), "%s should be broadcast", eventType)
	}
	assert.False(t, DisplayEvent{Type: EventChange}.IsBroadcast(), "change should not be broadcast")
	assert.False(t, DisplayEvent{Type: "unknown"}.IsBroadcast(), "unknown should not be broadcast")
}

func TestPresentTokenJSON(t *testing.T) {
	token := PresentToken(uuid.New())
	raw, err := json.Marshal(struct {
		Token PresentToken `json:"token"`
	}{Token: token})
	require.NoError(t, err, "marshal should not fail")
	assert.JSONEq(t, `{"token":"`+token.String()+`"}`, string(raw), "should encode as uuid string")
	var decoded struct {
		Token PresentToken `json:"token"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded), "unmarshal should not fail")
	assert.Equal(t, token, decoded.Token, "should decode same token")
}
