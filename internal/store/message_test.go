package store

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyhaven/messaging-service/internal/models"
)

// Replay sorts on (created_at, _id). Timestamps are stored with
// millisecond precision, so ids generated back to back in the same
// millisecond must still compare in generation order.
func TestMessageIDsOrderedWithinMillisecond(t *testing.T) {
	th := &models.Thread{
		ID: "th-1",
		Participants: []models.Participant{
			{UserID: "seller-1", Role: models.RoleSeller},
			{UserID: "agent-1", Role: models.RoleAgent},
		},
	}

	const n = 200
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		m, err := newMessage(th, "seller-1", "agent-1", "m", "")
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, ids, sorted)
}
