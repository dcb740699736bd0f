// ABOUTME: Tests for the presence coordinator
// ABOUTME: Covers snapshot replacement, patch scoping, role assignment and typing expiry

package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
)

func roster() []chat.Participant {
	return []chat.Participant{
		{ID: "u-a", DisplayName: "Alex", Role: chat.RolePartnerA},
		{ID: "u-b", DisplayName: "Blair", Role: chat.RolePartnerB},
	}
}

func newTestCoordinator(t *testing.T) (*Coordinator, *time.Time) {
	t.Helper()
	now := time.Unix(1700000000, 0)
	c := New(5*time.Second, nil)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestReplaceAll_MarksOnline(t *testing.T) {
	c, _ := newTestCoordinator(t)

	c.ReplaceAll(roster())

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	for _, p := range snap {
		assert.True(t, p.Online, p.ID)
	}
}

func TestReplaceAll_ReplacesMembership(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.ReplaceAll(roster())

	c.ReplaceAll([]chat.Participant{{ID: "u-c", Role: chat.RolePartnerA}})

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "u-c", snap[0].ID)
}

func TestReplaceAll_Truncates(t *testing.T) {
	c, _ := newTestCoordinator(t)

	c.ReplaceAll(append(roster(), chat.Participant{ID: "u-x"}))

	assert.Equal(t, MaxParticipants, c.Len())
}

func TestSetTyping_UnknownIgnored(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.ReplaceAll(roster())

	assert.False(t, c.SetTyping("stranger", true))
	assert.False(t, c.SetOnline("stranger", false))

	assert.Equal(t, 2, c.Len())
}

func TestSetTyping_PatchesByID(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.ReplaceAll(roster())

	assert.True(t, c.SetTyping("u-b", true))

	snap := c.Snapshot()
	assert.False(t, snap[0].Typing)
	assert.True(t, snap[1].Typing)
}

func TestSetOnline_OfflineClearsTyping(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.ReplaceAll(roster())
	c.SetTyping("u-a", true)

	assert.True(t, c.SetOnline("u-a", false))

	snap := c.Snapshot()
	assert.False(t, snap[0].Online)
	assert.False(t, snap[0].Typing)
}

func TestTyping_ExpiresAfterTTL(t *testing.T) {
	c, now := newTestCoordinator(t)
	c.ReplaceAll(roster())
	c.SetTyping("u-a", true)

	*now = now.Add(4 * time.Second)
	assert.True(t, c.Snapshot()[0].Typing)

	c.SetTyping("u-a", true)
	*now = now.Add(4 * time.Second)
	assert.True(t, c.Snapshot()[0].Typing, "refresh extends the TTL")

	*now = now.Add(2 * time.Second)
	assert.False(t, c.Snapshot()[0].Typing)
}

func TestAssignRole_OncePerConnection(t *testing.T) {
	c, _ := newTestCoordinator(t)

	assert.True(t, c.AssignRole(chat.RolePartnerB))
	assert.False(t, c.AssignRole(chat.RolePartnerA))
	assert.Equal(t, chat.RolePartnerB, c.SelfRole())

	c.ResetConnection()
	assert.Empty(t, c.SelfRole())
	assert.True(t, c.AssignRole(chat.RolePartnerA))
	assert.Equal(t, chat.RolePartnerA, c.SelfRole())
}

func TestAssignRole_RejectsNonPartner(t *testing.T) {
	c, _ := newTestCoordinator(t)

	assert.False(t, c.AssignRole(chat.RoleAI))
	assert.Empty(t, c.SelfRole())
}

func TestResetConnection_ClearsTyping(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.ReplaceAll(roster())
	c.SetTyping("u-b", true)

	c.ResetConnection()

	assert.False(t, c.Snapshot()[1].Typing)
	assert.Equal(t, 2, c.Len(), "roster survives a reconnect")
}
