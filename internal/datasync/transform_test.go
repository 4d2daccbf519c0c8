package datasync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileHash(t *testing.T) {
	cases := []struct {
		name string
		urn  string
		want string
	}{
		{name: "plain", urn: "urn:li:fsd_profile:ACoAAB123", want: "ACoAAB123"},
		{name: "composite", urn: "urn:li:msg_member:(urn:li:fsd_profile:ACoAAB123,42)", want: "ACoAAB123"},
		{name: "not a profile", urn: "urn:li:member:12345", want: ""},
		{name: "empty", urn: "", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, profileHash(tc.urn))
		})
	}
}

func TestEpochMillis(t *testing.T) {
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got := epochMillis(want.UnixMilli())
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	// Second-resolution input is normalized.
	got = epochMillis(want.Unix())
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	assert.Nil(t, epochMillis(0))
}

func TestConnectionFromElementSkipsUnresolvedMember(t *testing.T) {
	_, ok := connectionFromElement(7, connectionElement{CreatedAt: 1766000000000})
	assert.False(t, ok)
}

func TestConnectionFromElementFallsBackToHashForMemberID(t *testing.T) {
	el := connectionElement{
		CreatedAt:       1766000000000,
		ConnectedMember: "urn:li:fsd_profile:ACoAAB123",
		Resolution: &memberResolved{
			EntityURN: "urn:li:fsd_profile:ACoAAB123",
			FirstName: "Ada",
		},
	}
	conn, ok := connectionFromElement(7, el)
	require.True(t, ok)
	assert.Equal(t, "ACoAAB123", conn.HashID)
	assert.Equal(t, "ACoAAB123", conn.MemberID)
}

func TestConversationFromElementDefaultsSenderToSelf(t *testing.T) {
	el := conversationElement{
		EntityURN:      "urn:li:fsd_conversation:2-abc",
		LastActivityAt: 1766000000000,
	}
	el.Participants = []participant{
		{HostIdentityURN: "urn:li:fsd_profile:own-hash"},
		{HostIdentityURN: "urn:li:fsd_profile:peer-hash"},
	}
	el.Messages.Elements = []messageElement{
		{
			Body:        &textField{Text: "sent by me"},
			DeliveredAt: 1766000000000,
			Actor:       &participant{HostIdentityURN: "urn:li:fsd_profile:own-hash"},
		},
	}

	conv, ok := conversationFromElement(7, "own-hash", el)
	require.True(t, ok)
	assert.Equal(t, "peer-hash", conv.HashID)
	assert.Equal(t, "You", conv.LastMessageSender)
	assert.Equal(t, "sent by me", conv.LastMessageText)
}

func TestConversationFromElementRequiresCounterpart(t *testing.T) {
	el := conversationElement{
		EntityURN:      "urn:li:fsd_conversation:2-abc",
		LastActivityAt: 1766000000000,
	}
	el.Participants = []participant{
		{HostIdentityURN: "urn:li:fsd_profile:own-hash"},
	}

	_, ok := conversationFromElement(7, "own-hash", el)
	assert.False(t, ok)
}

func TestConversationFromElementRequiresActivityTimestamp(t *testing.T) {
	el := conversationElement{EntityURN: "urn:li:fsd_conversation:2-abc"}
	el.Participants = []participant{{HostIdentityURN: "urn:li:fsd_profile:peer-hash"}}

	_, ok := conversationFromElement(7, "own-hash", el)
	assert.False(t, ok)
}

func TestParticipantPublicIDFromProfileURL(t *testing.T) {
	p := participant{}
	p.ParticipantType.Member = &memberType{ProfileURL: "https://www.linkedin.com/in/ada-lovelace/?src=msg"}
	assert.Equal(t, "ada-lovelace", participantPublicID(p))

	p.PublicIdentifier = "explicit-id"
	assert.Equal(t, "explicit-id", participantPublicID(p))
}
