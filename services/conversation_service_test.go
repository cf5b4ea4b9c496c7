package services

import (
	"errors"
	"sync"
	"testing"

	"github.com/anjiri1684/chat_core/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestStartDirectMessage_SameConversationEitherDirection(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	f.befriend(alice, bob)

	first, err := f.svc.Conversations.StartDirectMessage(f.ctx, alice, bob)
	require.NoError(t, err)
	second, err := f.svc.Conversations.StartDirectMessage(f.ctx, bob, alice)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, models.ConversationDirect, first.Kind)

	active, err := f.store.ListActiveParticipants(f.ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, p := range active {
		require.Equal(t, models.RoleMember, p.Role)
	}
}

func TestStartDirectMessage_ConcurrentCallsShareOneConversation(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	f.befriend(alice, bob)

	const n = 16
	ids := make([]uuid.UUID, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := alice, bob
			if i%2 == 1 {
				a, b = bob, alice
			}
			conv, err := f.svc.Conversations.StartDirectMessage(f.ctx, a, b)
			errs[i] = err
			if err == nil {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], ids[i])
	}
	convs, err := f.store.ListConversations(f.ctx, alice, 0, 100)
	require.NoError(t, err)
	require.Len(t, convs, 1)
}

func TestStartDirectMessage_Rejections(t *testing.T) {
	f := newFixture(t)
	alice, bob, carol, dave := f.user("alice"), f.user("bob"), f.user("carol"), f.user("dave")
	f.store.PutFriendship(models.Friendship{RequesterID: alice, AddresseeID: carol, Status: models.FriendshipPending})
	f.store.PutFriendship(models.Friendship{RequesterID: alice, AddresseeID: dave, Status: models.FriendshipAccepted, IsBlocked: true})

	cases := []struct {
		name   string
		target uuid.UUID
		want   error
	}{
		{"self", alice, ErrSelfConversation},
		{"strangers", bob, ErrNotFriends},
		{"pending request", carol, ErrNotFriends},
		{"blocked", dave, ErrNotFriends},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conv, err := f.svc.Conversations.StartDirectMessage(f.ctx, alice, tc.target)
			require.ErrorIs(t, err, tc.want)
			require.Nil(t, conv)
		})
	}
}

func TestCreateGroup_Validation(t *testing.T) {
	f := newFixture(t)
	owner, bob := f.user("owner"), f.user("bob")

	cases := []struct {
		name string
		in   NewGroup
		want ErrorKind
	}{
		{"blank title", NewGroup{Title: "   ", ParticipantIDs: []uuid.UUID{bob}}, KindInvalidTitle},
		{"no participants", NewGroup{Title: "team"}, KindInsufficientParticipants},
		{"only the owner", NewGroup{Title: "team", ParticipantIDs: []uuid.UUID{owner, owner}}, KindInsufficientParticipants},
		{"unknown user", NewGroup{Title: "team", ParticipantIDs: []uuid.UUID{bob, uuid.New()}}, KindUnknownParticipant},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Conversations.CreateGroup(f.ctx, owner, tc.in)
			require.Error(t, err)
			require.Equal(t, tc.want, KindOf(err))
		})
	}
}

func TestCreateGroup_OwnerListedOnce(t *testing.T) {
	f := newFixture(t)
	owner, bob := f.user("owner"), f.user("bob")

	conv, err := f.svc.Conversations.CreateGroup(f.ctx, owner, NewGroup{
		Title:          "  study group  ",
		ParticipantIDs: []uuid.UUID{owner, bob, bob},
	})
	require.NoError(t, err)
	require.Equal(t, "study group", *conv.Title)
	require.Equal(t, models.ConversationGroup, conv.Kind)

	active, err := f.store.ListActiveParticipants(f.ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, models.RoleOwner, f.participant(t, conv.ID, owner).Role)
	require.Equal(t, models.RoleMember, f.participant(t, conv.ID, bob).Role)
}

func TestAddParticipant_Errors(t *testing.T) {
	f := newFixture(t)
	owner, bob, carol := f.user("owner"), f.user("bob"), f.user("carol")
	outsider := f.user("outsider")
	group := f.group(t, owner, bob)
	dm := f.direct(t, owner, carol)

	cases := []struct {
		name   string
		actor  uuid.UUID
		convID uuid.UUID
		user   uuid.UUID
		want   error
	}{
		{"member cannot add", bob, group.ID, carol, ErrNotAuthorized},
		{"outsider cannot add", outsider, group.ID, carol, ErrNotAuthorized},
		{"already a member", owner, group.ID, bob, ErrAlreadyMember},
		{"unknown user", owner, group.ID, uuid.New(), ErrUnknownParticipant},
		{"direct message", owner, dm.ID, bob, ErrInvalidConversationType},
		{"missing conversation", owner, uuid.New(), carol, ErrConversationNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Conversations.AddParticipant(f.ctx, tc.actor, tc.convID, tc.user)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAddParticipant_AdminCanAdd(t *testing.T) {
	f := newFixture(t)
	owner, admin, carol := f.user("owner"), f.user("admin"), f.user("carol")
	group := f.group(t, owner, admin)
	_, err := f.svc.Conversations.ChangeRole(f.ctx, owner, group.ID, admin, models.RoleAdmin)
	require.NoError(t, err)

	p, err := f.svc.Conversations.AddParticipant(f.ctx, admin, group.ID, carol)
	require.NoError(t, err)
	require.True(t, p.IsActive)
	require.Equal(t, models.RoleMember, p.Role)

	updates := f.hub.named(models.EventConversationUpdated)
	last := updates[len(updates)-1].event.(models.ConversationUpdated)
	require.Equal(t, models.ChangeParticipantAdded, last.Change)
	require.Equal(t, carol, *last.UserID)
}

func TestLeaveAndRejoin_KeepsOneRow(t *testing.T) {
	f := newFixture(t)
	owner, bob := f.user("owner"), f.user("bob")
	group := f.group(t, owner, bob)

	require.NoError(t, f.svc.Conversations.Leave(f.ctx, bob, group.ID))
	left := f.participant(t, group.ID, bob)
	require.False(t, left.IsActive)
	require.NotNil(t, left.LeftAt)
	require.ErrorIs(t, f.svc.Conversations.RequireMember(f.ctx, bob, group.ID), ErrNotAMember)
	require.Contains(t, f.hub.detached, bob)

	_, err := f.svc.Conversations.AddParticipant(f.ctx, owner, group.ID, bob)
	require.NoError(t, err)

	require.Equal(t, 1, f.activeRows(t, group.ID, bob))

	back := f.participant(t, group.ID, bob)
	require.True(t, back.IsActive)
	require.Nil(t, back.LeftAt)
	require.True(t, back.JoinedAt.After(left.JoinedAt))
	require.NoError(t, f.svc.Conversations.RequireMember(f.ctx, bob, group.ID))
}

func TestLeaveAndAdd_ConcurrentCallsStayConsistent(t *testing.T) {
	f := newFixture(t)
	owner, carol, bob := f.user("owner"), f.user("carol"), f.user("bob")
	group := f.group(t, owner, carol, bob)

	const rounds = 32
	errs := make(chan error, 2*rounds)
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- f.svc.Conversations.Leave(f.ctx, bob, group.ID)
		}()
		go func() {
			defer wg.Done()
			_, err := f.svc.Conversations.AddParticipant(f.ctx, owner, group.ID, bob)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, ErrNotAMember) && !errors.Is(err, ErrAlreadyMember) {
			require.NoError(t, err)
		}
	}

	p := f.participant(t, group.ID, bob)
	if p.IsActive {
		require.Equal(t, 1, f.activeRows(t, group.ID, bob))
		require.Nil(t, p.LeftAt)
	} else {
		require.Zero(t, f.activeRows(t, group.ID, bob))
		_, err := f.svc.Conversations.AddParticipant(f.ctx, owner, group.ID, bob)
		require.NoError(t, err)
		require.Equal(t, 1, f.activeRows(t, group.ID, bob))
	}
	require.Equal(t, 1, f.owners(t, group.ID))
	require.NoError(t, f.svc.Conversations.RequireMember(f.ctx, bob, group.ID))
}

func TestLeave_OwnerHandsOverToAdminFirst(t *testing.T) {
	f := newFixture(t)
	owner, early, admin := f.user("owner"), f.user("early"), f.user("admin")
	group := f.group(t, owner, early)
	_, err := f.svc.Conversations.AddParticipant(f.ctx, owner, group.ID, admin)
	require.NoError(t, err)
	_, err = f.svc.Conversations.ChangeRole(f.ctx, owner, group.ID, admin, models.RoleAdmin)
	require.NoError(t, err)

	require.NoError(t, f.svc.Conversations.Leave(f.ctx, owner, group.ID))

	require.Equal(t, models.RoleOwner, f.participant(t, group.ID, admin).Role)
	require.Equal(t, models.RoleMember, f.participant(t, group.ID, early).Role)
	require.Equal(t, models.RoleMember, f.participant(t, group.ID, owner).Role)
	require.Equal(t, 1, f.owners(t, group.ID))

	var roleChanges []models.ConversationUpdated
	for _, e := range f.hub.named(models.EventConversationUpdated) {
		if u := e.event.(models.ConversationUpdated); u.Change == models.ChangeRoleChanged {
			roleChanges = append(roleChanges, u)
		}
	}
	require.Equal(t, admin, *roleChanges[len(roleChanges)-1].UserID)
}

func TestLeave_OwnerHandsOverToEarliestMember(t *testing.T) {
	f := newFixture(t)
	owner, early, late := f.user("owner"), f.user("early"), f.user("late")
	group := f.group(t, owner, early)
	_, err := f.svc.Conversations.AddParticipant(f.ctx, owner, group.ID, late)
	require.NoError(t, err)

	require.NoError(t, f.svc.Conversations.Leave(f.ctx, owner, group.ID))

	require.Equal(t, models.RoleOwner, f.participant(t, group.ID, early).Role)
	require.Equal(t, models.RoleMember, f.participant(t, group.ID, late).Role)
}

func TestLeave_LastOwnerDissolvesGroup(t *testing.T) {
	f := newFixture(t)
	owner, bob := f.user("owner"), f.user("bob")
	group := f.group(t, owner, bob)

	require.NoError(t, f.svc.Conversations.Leave(f.ctx, bob, group.ID))
	require.NoError(t, f.svc.Conversations.Leave(f.ctx, owner, group.ID))

	conv, err := f.store.GetConversation(f.ctx, group.ID)
	require.NoError(t, err)
	require.False(t, conv.IsActive)
	require.Equal(t, 0, f.owners(t, group.ID))

	updates := f.hub.named(models.EventConversationUpdated)
	last := updates[len(updates)-1].event.(models.ConversationUpdated)
	require.Equal(t, models.ChangeParticipantLeft, last.Change)
	require.False(t, last.IsActive)
}

func TestLeave_Errors(t *testing.T) {
	f := newFixture(t)
	owner, bob, carol := f.user("owner"), f.user("bob"), f.user("carol")
	group := f.group(t, owner, bob)
	dm := f.direct(t, owner, carol)

	require.ErrorIs(t, f.svc.Conversations.Leave(f.ctx, owner, dm.ID), ErrCannotLeaveDirectMessage)
	require.ErrorIs(t, f.svc.Conversations.Leave(f.ctx, carol, group.ID), ErrNotAMember)
	require.ErrorIs(t, f.svc.Conversations.Leave(f.ctx, owner, uuid.New()), ErrConversationNotFound)

	require.NoError(t, f.svc.Conversations.Leave(f.ctx, bob, group.ID))
	require.ErrorIs(t, f.svc.Conversations.Leave(f.ctx, bob, group.ID), ErrNotAMember)
}

func TestKick(t *testing.T) {
	f := newFixture(t)
	owner, admin, bob, carol := f.user("owner"), f.user("admin"), f.user("bob"), f.user("carol")
	group := f.group(t, owner, admin, bob)
	dm := f.direct(t, owner, carol)
	_, err := f.svc.Conversations.ChangeRole(f.ctx, owner, group.ID, admin, models.RoleAdmin)
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.Conversations.Kick(f.ctx, admin, group.ID, bob), ErrNotAuthorized)
	require.ErrorIs(t, f.svc.Conversations.Kick(f.ctx, owner, group.ID, owner), ErrCannotKickSelf)
	require.ErrorIs(t, f.svc.Conversations.Kick(f.ctx, owner, group.ID, carol), ErrParticipantNotFound)
	require.ErrorIs(t, f.svc.Conversations.Kick(f.ctx, owner, dm.ID, carol), ErrInvalidConversationType)

	require.NoError(t, f.svc.Conversations.Kick(f.ctx, owner, group.ID, bob))
	require.False(t, f.participant(t, group.ID, bob).IsActive)
	require.Contains(t, f.hub.detached, bob)
	require.ErrorIs(t, f.svc.Conversations.Kick(f.ctx, owner, group.ID, bob), ErrParticipantNotFound)

	_, err = f.svc.Messages.Send(f.ctx, bob, group.ID, SendInput{Content: strPtr("still here?")})
	require.ErrorIs(t, err, ErrNotAMember)

	var direct []sentEvent
	for _, e := range f.hub.named(models.EventConversationUpdated) {
		if len(e.users) == 1 && e.users[0] == bob {
			direct = append(direct, e)
		}
	}
	require.Len(t, direct, 1)
}

func TestSingleOwnerThroughMembershipChanges(t *testing.T) {
	f := newFixture(t)
	owner, a, b, c := f.user("owner"), f.user("a"), f.user("b"), f.user("c")
	group := f.group(t, owner, a, b)
	_, err := f.svc.Conversations.AddParticipant(f.ctx, owner, group.ID, c)
	require.NoError(t, err)
	_, err = f.svc.Conversations.ChangeRole(f.ctx, owner, group.ID, a, models.RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, 1, f.owners(t, group.ID))

	require.NoError(t, f.svc.Conversations.Leave(f.ctx, owner, group.ID))
	require.Equal(t, 1, f.owners(t, group.ID))
	require.Equal(t, models.RoleOwner, f.participant(t, group.ID, a).Role)

	require.NoError(t, f.svc.Conversations.Kick(f.ctx, a, group.ID, b))
	require.Equal(t, 1, f.owners(t, group.ID))

	require.NoError(t, f.svc.Conversations.Leave(f.ctx, a, group.ID))
	require.Equal(t, 1, f.owners(t, group.ID))
	require.Equal(t, models.RoleOwner, f.participant(t, group.ID, c).Role)

	_, err = f.svc.Conversations.AddParticipant(f.ctx, c, group.ID, owner)
	require.NoError(t, err)
	require.Equal(t, 1, f.owners(t, group.ID))
	require.Equal(t, models.RoleMember, f.participant(t, group.ID, owner).Role)
}

func TestChangeRole(t *testing.T) {
	f := newFixture(t)
	owner, bob, carol := f.user("owner"), f.user("bob"), f.user("carol")
	group := f.group(t, owner, bob, carol)

	p, err := f.svc.Conversations.ChangeRole(f.ctx, owner, group.ID, bob, models.RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, models.RoleAdmin, p.Role)

	_, err = f.svc.Conversations.ChangeRole(f.ctx, bob, group.ID, carol, models.RoleAdmin)
	require.ErrorIs(t, err, ErrNotAuthorized)
	_, err = f.svc.Conversations.ChangeRole(f.ctx, owner, group.ID, carol, models.RoleOwner)
	require.ErrorIs(t, err, ErrInvalidRole)
	_, err = f.svc.Conversations.ChangeRole(f.ctx, owner, group.ID, owner, models.RoleMember)
	require.ErrorIs(t, err, ErrInvalidRole)
	_, err = f.svc.Conversations.ChangeRole(f.ctx, owner, group.ID, uuid.New(), models.RoleAdmin)
	require.ErrorIs(t, err, ErrParticipantNotFound)

	p, err = f.svc.Conversations.ChangeRole(f.ctx, owner, group.ID, bob, models.RoleMember)
	require.NoError(t, err)
	require.Equal(t, models.RoleMember, p.Role)
}

func TestUpdateGroup(t *testing.T) {
	f := newFixture(t)
	owner, bob := f.user("owner"), f.user("bob")
	group := f.group(t, owner, bob)

	_, err := f.svc.Conversations.UpdateGroup(f.ctx, bob, group.ID, GroupUpdate{Title: strPtr("mine now")})
	require.ErrorIs(t, err, ErrNotAuthorized)
	_, err = f.svc.Conversations.UpdateGroup(f.ctx, owner, group.ID, GroupUpdate{Title: strPtr(" ")})
	require.ErrorIs(t, err, ErrInvalidTitle)

	conv, err := f.svc.Conversations.UpdateGroup(f.ctx, owner, group.ID, GroupUpdate{
		Title:       strPtr("renamed"),
		Description: strPtr("weekly sync"),
	})
	require.NoError(t, err)
	require.Equal(t, "renamed", *conv.Title)
	require.Equal(t, "weekly sync", *conv.Description)
	require.Nil(t, conv.ImageURL)

	updates := f.hub.named(models.EventConversationUpdated)
	require.Equal(t, models.ChangeDetailsUpdated, updates[len(updates)-1].event.(models.ConversationUpdated).Change)
}

func TestListAndSearch(t *testing.T) {
	f := newFixture(t)
	me, bob, carol := f.user("me"), f.user("Bob Builder"), f.user("carol")
	quiet := f.direct(t, me, carol)
	busy := f.direct(t, me, bob)
	group, err := f.svc.Conversations.CreateGroup(f.ctx, me, NewGroup{Title: "Book Club", ParticipantIDs: []uuid.UUID{carol}})
	require.NoError(t, err)

	f.send(t, me, quiet.ID, "first")
	f.send(t, bob, busy.ID, "latest")

	list, err := f.svc.Conversations.ListForUser(f.ctx, me, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, busy.ID, list[0].ID)
	require.Equal(t, quiet.ID, list[1].ID)
	require.Equal(t, group.ID, list[2].ID)
	require.Equal(t, "latest", *list[0].LastMessage.Content)
	require.EqualValues(t, 1, list[0].UnreadCount)
	require.EqualValues(t, 0, list[1].UnreadCount)
	require.Len(t, list[0].Participants, 2)

	byName, err := f.svc.Conversations.Search(f.ctx, me, "builder", 0, 0)
	require.NoError(t, err)
	require.Len(t, byName, 1)
	require.Equal(t, busy.ID, byName[0].ID)

	byTitle, err := f.svc.Conversations.Search(f.ctx, me, "book", 0, 0)
	require.NoError(t, err)
	require.Len(t, byTitle, 1)
	require.Equal(t, group.ID, byTitle[0].ID)

	all, err := f.svc.Conversations.Search(f.ctx, me, "  ", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	owner, bob, outsider := f.user("owner"), f.user("bob"), f.user("outsider")
	group := f.group(t, owner, bob)
	f.send(t, bob, group.ID, "one")
	f.send(t, bob, group.ID, "two")

	detail, err := f.svc.Conversations.Get(f.ctx, owner, group.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, detail.Participants, 2)
	require.Len(t, detail.Messages, 2)
	require.Equal(t, "one", *detail.Messages[0].Content)
	require.EqualValues(t, 2, detail.UnreadCount)

	_, err = f.svc.Conversations.Get(f.ctx, outsider, group.ID, 0, 0)
	require.ErrorIs(t, err, ErrNotAMember)
	_, err = f.svc.Conversations.Get(f.ctx, owner, uuid.New(), 0, 0)
	require.ErrorIs(t, err, ErrConversationNotFound)
}
