package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStateRoundTrip(t *testing.T) {
	closedAt := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	for _, state := range []SessionState{SessionOpen, SessionActive, SessionClosed} {
		t.Run(state.String(), func(t *testing.T) {
			in := Session{
				ID:        "sess_1",
				SiteID:    "shop1",
				VisitorID: "v1",
				State:     state,
				CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			}
			if state == SessionClosed {
				in.ClosedAt = &closedAt
				in.ClosedBy = ClosedByAdmin
			}

			data, err := json.Marshal(in)
			require.NoError(t, err)
			assert.Contains(t, string(data), `"state":"`+state.String()+`"`)

			var out Session
			require.NoError(t, json.Unmarshal(data, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestSessionStateRejectsUnknownName(t *testing.T) {
	var out Session
	err := json.Unmarshal([]byte(`{"state":"paused"}`), &out)
	assert.Error(t, err)
}
