package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCanonicalFields(t *testing.T) {
	var p sendMessagePayload
	require.NoError(t, json.Unmarshal([]byte(`{
		"thread_id": "t1",
		"recipient_id": "u2",
		"property_id": "p3",
		"text": "hello"
	}`), &p))

	req := p.normalize()
	assert.Equal(t, "t1", req.ThreadID)
	assert.Equal(t, "u2", req.RecipientID)
	assert.Equal(t, "p3", req.PropertyID)
	assert.Equal(t, "hello", req.Text)
}

func TestNormalizeLegacyAliases(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"camelCase", `{"threadId":"t1","recipientId":"u2","propertyId":"p3","message":"hello"}`},
		{"receiver-and-listing", `{"conversation_id":"t1","receiver_id":"u2","listing_id":"p3","content":"hello"}`},
		{"to-user", `{"thread_id":"t1","to_user_id":"u2","property_id":"p3","text":"hello"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var p sendMessagePayload
			require.NoError(t, json.Unmarshal([]byte(tc.body), &p))
			req := p.normalize()
			assert.Equal(t, "t1", req.ThreadID)
			assert.Equal(t, "u2", req.RecipientID)
			assert.Equal(t, "p3", req.PropertyID)
			assert.Equal(t, "hello", req.Text)
		})
	}
}

func TestNormalizePrefersCanonicalOverAlias(t *testing.T) {
	var p sendMessagePayload
	require.NoError(t, json.Unmarshal([]byte(`{
		"recipient_id": "canonical",
		"recipientId": "alias",
		"text": "t",
		"message": "legacy"
	}`), &p))
	req := p.normalize()
	assert.Equal(t, "canonical", req.RecipientID)
	assert.Equal(t, "t", req.Text)
}
