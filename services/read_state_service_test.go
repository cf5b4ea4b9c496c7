package services

import (
	"testing"

	"github.com/anjiri1684/chat_core/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestUnreadCount_CountsOnlyLiveMessagesFromOthers(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	dm := f.direct(t, alice, bob)

	f.send(t, alice, dm.ID, "mine")
	f.send(t, bob, dm.ID, "one")
	gone := f.send(t, bob, dm.ID, "two")
	f.send(t, bob, dm.ID, "three")
	require.NoError(t, f.svc.Messages.Delete(f.ctx, bob, gone.ID))

	n, err := f.svc.ReadState.UnreadCount(f.ctx, alice, dm.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = f.svc.ReadState.UnreadCount(f.ctx, bob, dm.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestMarkMessageRead_ClearsUnreadAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	dm := f.direct(t, alice, bob)
	hello := f.send(t, alice, dm.ID, "hello")

	receipt, err := f.svc.ReadState.MarkMessageRead(f.ctx, bob, hello.ID)
	require.NoError(t, err)
	require.Equal(t, bob, receipt.UserID)
	require.Equal(t, hello.ID, *receipt.MessageID)

	n, err := f.svc.ReadState.UnreadCount(f.ctx, bob, dm.ID)
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = f.svc.ReadState.UnreadCount(f.ctx, alice, dm.ID)
	require.NoError(t, err)
	require.Zero(t, n)

	reads := f.hub.named(models.EventMessageRead)
	require.Len(t, reads, 1)
	require.Equal(t, dm.ID, reads[0].conversationID)

	f.send(t, alice, dm.ID, "are you there?")
	n, err = f.svc.ReadState.UnreadCount(f.ctx, bob, dm.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	p := f.participant(t, dm.ID, bob)
	require.Equal(t, hello.ID, *p.LastReadMessageID)
	require.NotNil(t, p.LastReadAt)
}

func TestMarkRead_Rejections(t *testing.T) {
	f := newFixture(t)
	alice, bob, outsider := f.user("alice"), f.user("bob"), f.user("outsider")
	dm := f.direct(t, alice, bob)

	_, err := f.svc.ReadState.MarkRead(f.ctx, outsider, dm.ID)
	require.ErrorIs(t, err, ErrNotAMember)
	_, err = f.svc.ReadState.MarkRead(f.ctx, alice, uuid.New())
	require.ErrorIs(t, err, ErrConversationNotFound)
	_, err = f.svc.ReadState.MarkMessageRead(f.ctx, alice, uuid.New())
	require.ErrorIs(t, err, ErrMessageNotFound)

	receipt, err := f.svc.ReadState.MarkRead(f.ctx, alice, dm.ID)
	require.NoError(t, err)
	require.Nil(t, receipt.MessageID)
}

func TestTotalUnreadCount_SumsActiveParticipations(t *testing.T) {
	f := newFixture(t)
	me, bob, carol := f.user("me"), f.user("bob"), f.user("carol")
	withBob := f.direct(t, me, bob)
	group := f.group(t, carol, me, bob)
	left := f.group(t, carol, me)

	f.send(t, bob, withBob.ID, "1")
	f.send(t, bob, withBob.ID, "2")
	f.send(t, carol, group.ID, "3")
	f.send(t, carol, left.ID, "4")
	require.NoError(t, f.svc.Conversations.Leave(f.ctx, me, left.ID))

	total, err := f.svc.ReadState.TotalUnreadCount(f.ctx, me)
	require.NoError(t, err)
	require.EqualValues(t, 3, total)

	_, err = f.svc.ReadState.MarkRead(f.ctx, me, withBob.ID)
	require.NoError(t, err)
	total, err = f.svc.ReadState.TotalUnreadCount(f.ctx, me)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}
