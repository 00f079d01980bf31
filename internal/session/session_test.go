package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiongate/gateway/internal/session"
)

func TestDecode(t *testing.T) {
	t.Run("valid record", func(t *testing.T) {
		data := []byte(`{
			"sessionId": "s-1",
			"partner": "prevcom",
			"sessionSecret": "shh",
			"userInfo": {"documentNumber": "123", "fullName": "Jane", "email": "j@example.com"},
			"fund": {"id": "f1", "name": "Fund One"},
			"relationshipSelected": {"id": "REL001", "contractNumber": "378192372163682"},
			"permissions": ["VIEW_SIMULATION_RESULTS"],
			"unknownField": "tolerated"
		}`)

		rec, err := session.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, "s-1", rec.SessionID)
		assert.True(t, rec.HasValidRelationship())
	})

	t.Run("missing required field", func(t *testing.T) {
		_, err := session.Decode([]byte(`{"partner": "prevcom", "sessionSecret": "shh"}`))
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := session.Decode([]byte(`not json`))
		assert.Error(t, err)
	})
}

func TestHasPermissions(t *testing.T) {
	rec := &session.Record{Permissions: []string{"VIEW_SIMULATION_RESULTS", "CREATE_SIMULATION"}}

	assert.True(t, rec.HasPermissions(nil))
	assert.True(t, rec.HasPermissions([]string{"VIEW_SIMULATION_RESULTS"}))
	assert.True(t, rec.HasPermissions([]string{"VIEW_SIMULATION_RESULTS", "CREATE_SIMULATION"}))
	assert.False(t, rec.HasPermissions([]string{"DELETE_SIMULATION"}))
}

func TestToHeaders(t *testing.T) {
	rec := &session.Record{
		SessionID: "s-1",
		Partner:   "prevcom",
		UserInfo:  session.UserInfo{DocumentNumber: "123", FullName: "Jane", Email: "j@example.com"},
		Fund:      session.Fund{ID: "f1", Name: "Fund One"},
		RelationshipSelected: &session.Relationship{
			ID:             "REL001",
			ContractNumber: "378192372163682",
		},
		Permissions: []string{"VIEW_SIMULATION_RESULTS"},
	}

	h := rec.ToHeaders()
	assert.Equal(t, "123", h["userDocumentNumber"])
	assert.Equal(t, "j@example.com", h["userEmail"])
	assert.Equal(t, "Jane", h["userName"])
	assert.Equal(t, "f1", h["fundId"])
	assert.Equal(t, "Fund One", h["fundName"])
	assert.Equal(t, "prevcom", h["partner"])
	assert.Equal(t, "s-1", h["sessionId"])
	assert.Equal(t, "REL001", h["relationshipId"])
	assert.Equal(t, "378192372163682", h["contractNumber"])
	assert.Equal(t, "VIEW_SIMULATION_RESULTS", h["userPermissions"])
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "fidc:session:prevcom:s-1", session.RedisKey("prevcom", "s-1"))
}
