package orch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/taskboard-relay/internal/app"
	"github.com/dkeye/taskboard-relay/internal/core"
	"github.com/dkeye/taskboard-relay/internal/core/coretest"
	"github.com/dkeye/taskboard-relay/internal/core/mock"
	"github.com/dkeye/taskboard-relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newOrch() *Orchestrator {
	return &Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.DropPolicy{},
	}
}

func user(id string) *domain.User {
	return &domain.User{ID: domain.UserID(id), Name: "name-" + id}
}

func frame(t *testing.T, typ string, data any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{"type": typ, "data": data})
	require.NoError(t, err)
	return b
}

func TestMultiTabRoomDeliveryAndPresence(t *testing.T) {
	o := newOrch()
	u := user("u")
	connA, connB := coretest.NewFakeConn("a"), coretest.NewFakeConn("b")
	watcher := coretest.NewFakeConn("w")
	o.Connect(user("w"), watcher)
	watcher.Reset()

	sessA := o.Connect(u, connA)
	sessB := o.Connect(u, connB)
	assert.Equal(t, 1, watcher.Count(EventUserOnline), "second tab must not re-announce")

	require.NoError(t, o.HandleFrame(sessA, frame(t, "board:join", map[string]string{"boardId": "b1"})))
	connA.Reset()
	connB.Reset()

	require.NoError(t, o.HandleFrame(sessA, frame(t, "task:created", map[string]any{
		"boardId": "b1",
		"task":    map[string]string{"id": "t1"},
	})))
	assert.Equal(t, 0, connA.Count("task:created"))
	assert.Equal(t, 1, connB.Count("task:created"))

	o.Disconnect(sessA)
	assert.True(t, o.Registry.Online(u.ID))
	assert.Contains(t, o.ActiveUsers("b1"), u.ID)
	assert.Equal(t, 0, watcher.Count(EventUserOffline))

	o.Disconnect(sessB)
	o.Disconnect(sessB)
	assert.False(t, o.Registry.Online(u.ID))
	assert.Equal(t, 1, watcher.Count(EventUserOffline))
	assert.NotContains(t, o.ActiveUsers("b1"), u.ID)
	assert.Empty(t, o.Rooms.List())
}

func TestRoomEventSkipsNonMembers(t *testing.T) {
	o := newOrch()
	sessU := o.Connect(user("u"), coretest.NewFakeConn("u1"))
	v := coretest.NewFakeConn("v1")
	o.Connect(user("v"), v)
	o.Join(sessU, "b1")
	v.Reset()

	o.Dispatch(sessU, &TaskUpdated{BoardID: "b1", Task: json.RawMessage(`{}`)})
	o.Dispatch(sessU, &BoardDeleted{BoardID: "b1"})

	assert.Empty(t, v.Types())
}

func TestJoinAnnouncesOnceAndRepliesActiveUsers(t *testing.T) {
	o := newOrch()
	peer := coretest.NewFakeConn("p")
	sessP := o.Connect(user("p"), peer)
	o.Join(sessP, "b1")
	peer.Reset()

	connA, connB := coretest.NewFakeConn("a"), coretest.NewFakeConn("b")
	sessA := o.Connect(user("u"), connA)
	sessB := o.Connect(user("u"), connB)
	o.Join(sessA, "b1")
	o.Join(sessB, "b1")

	assert.Equal(t, 1, peer.Count(EventBoardUserJoined))
	assert.Equal(t, 0, connB.Count(EventBoardUserJoined))

	msgs := connA.Messages()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, EventBoardActiveUsers, last.Type)
	var au activeUsers
	require.NoError(t, json.Unmarshal(last.Data, &au))
	assert.Equal(t, domain.BoardID("b1"), au.BoardID)
	assert.ElementsMatch(t, []domain.UserID{"p", "u"}, au.Users)
	assert.Equal(t, 1, connB.Count(EventBoardActiveUsers))
}

func TestLeaveAnnouncesOnlyWhenMember(t *testing.T) {
	o := newOrch()
	peer := coretest.NewFakeConn("p")
	sessP := o.Connect(user("p"), peer)
	sessU := o.Connect(user("u"), coretest.NewFakeConn("u1"))
	o.Join(sessP, "b1")

	o.Leave(sessU, "b1")
	assert.Equal(t, 0, peer.Count(EventBoardUserLeft))

	o.Join(sessU, "b1")
	o.Leave(sessU, "b1")
	assert.Equal(t, 1, peer.Count(EventBoardUserLeft))
}

func TestLastDisconnectLeavesEveryRoom(t *testing.T) {
	o := newOrch()
	p1, p2 := coretest.NewFakeConn("p1"), coretest.NewFakeConn("p2")
	sess1 := o.Connect(user("p1"), p1)
	sess2 := o.Connect(user("p2"), p2)
	o.Join(sess1, "b1")
	o.Join(sess2, "b2")

	sessU := o.Connect(user("u"), coretest.NewFakeConn("u1"))
	o.Join(sessU, "b1")
	o.Join(sessU, "b2")
	o.Disconnect(sessU)

	assert.Equal(t, 1, p1.Count(EventBoardUserLeft))
	assert.Equal(t, 1, p2.Count(EventBoardUserLeft))
	assert.Empty(t, o.Rooms.RoomsOf("u"))
	assert.Equal(t, []domain.UserID{"p1"}, o.ActiveUsers("b1"))
}

func TestBoardDeletedReachesSender(t *testing.T) {
	o := newOrch()
	connA, connB := coretest.NewFakeConn("a"), coretest.NewFakeConn("b")
	sessA := o.Connect(user("u"), connA)
	o.Connect(user("u"), connB)
	o.Join(sessA, "b1")

	require.NoError(t, o.HandleFrame(sessA, frame(t, "board:deleted", map[string]string{"boardId": "b1"})))

	assert.Equal(t, 1, connA.Count("board:deleted"))
	assert.Equal(t, 1, connB.Count("board:deleted"))
}

func TestDirectDeliveryToEveryTab(t *testing.T) {
	o := newOrch()
	sender := o.Connect(user("s"), coretest.NewFakeConn("s1"))
	a, b := coretest.NewFakeConn("a"), coretest.NewFakeConn("b")
	o.Connect(user("r"), a)
	o.Connect(user("r"), b)

	o.Dispatch(sender, &NotificationSend{RecipientID: "r", Notification: json.RawMessage(`{"text":"hi"}`)})
	assert.Equal(t, 1, a.Count(EventNotification))
	assert.Equal(t, 1, b.Count(EventNotification))

	res := o.EmitToUser("nobody", EventNotification, map[string]string{"x": "y"})
	assert.Equal(t, 0, res.SendTo)
	assert.Empty(t, res.Dropped)
}

func TestCommentMentionsAreDirect(t *testing.T) {
	o := newOrch()
	author := o.Connect(user("a"), coretest.NewFakeConn("a1"))
	m := coretest.NewFakeConn("m1")
	o.Connect(user("m"), m)

	o.Dispatch(author, &CommentAdded{
		BoardID:  "b1",
		TaskID:   "t1",
		Comment:  json.RawMessage(`{"id":"c1"}`),
		Mentions: []domain.UserID{"m"},
	})

	assert.Equal(t, 1, m.Count(EventCommentMentioned))
	assert.Equal(t, 0, m.Count("comment:added"), "not a room member")
}

func TestMalformedFrameRepliesErrorToSenderOnly(t *testing.T) {
	o := newOrch()
	conn := coretest.NewFakeConn("a")
	other := coretest.NewFakeConn("b")
	sess := o.Connect(user("u"), conn)
	o.Connect(user("v"), other)
	other.Reset()

	err := o.HandleFrame(sess, frame(t, "task:moved", map[string]string{"boardId": "b1"}))
	require.ErrorIs(t, err, ErrMalformed)
	err = o.HandleFrame(sess, frame(t, "nope", nil))
	require.ErrorIs(t, err, ErrUnknownEvent)

	assert.Equal(t, 2, conn.Count(EventError))
	assert.Empty(t, other.Types())
	assert.True(t, o.Registry.Online("u"))
}

func TestKickPolicyClosesSlowConnection(t *testing.T) {
	o := newOrch()
	o.Policy = app.KickPolicy{}
	sender := o.Connect(user("s"), coretest.NewFakeConn("s1"))
	fast, slow := coretest.NewFakeConn("f"), coretest.NewFakeConn("sl")
	o.Connect(user("f"), fast)
	o.Connect(user("sl"), slow)
	o.Join(sender, "b1")
	o.Rooms.Join("b1", "f")
	o.Rooms.Join("b1", "sl")
	slow.SetFull(true)

	res := o.Deliver(Delivery{Target: ToRoom("b1"), Event: "task:created", Data: map[string]string{}})

	assert.Equal(t, 2, res.SendTo)
	require.Len(t, res.Dropped, 1)
	assert.True(t, slow.Closed())
	assert.False(t, fast.Closed())
}

func TestDropPolicyKeepsSlowConnection(t *testing.T) {
	o := newOrch()
	slow := coretest.NewFakeConn("sl")
	o.Connect(user("sl"), slow)
	slow.SetFull(true)

	res := o.Deliver(Delivery{Target: ToAll(), Event: "x"})

	assert.Len(t, res.Dropped, 1)
	assert.False(t, slow.Closed())
}

func TestAuthenticate(t *testing.T) {
	ctrl := gomock.NewController(t)
	auth := mock.NewMockAuthenticator(ctrl)
	o := newOrch()
	o.Auth = auth

	_, err := o.Authenticate(context.Background(), "")
	require.ErrorIs(t, err, ErrNoCredential)

	auth.EXPECT().Authenticate(gomock.Any(), "bad").Return(nil, errors.New("signature"))
	_, err = o.Authenticate(context.Background(), "bad")
	require.ErrorIs(t, err, ErrUnauthorized)

	auth.EXPECT().Authenticate(gomock.Any(), "good").Return(user("u"), nil)
	u, err := o.Authenticate(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("u"), u.ID)

	conns, users := o.Registry.Count()
	assert.Zero(t, conns)
	assert.Zero(t, users)
}

func TestShutdownClosesConnections(t *testing.T) {
	o := newOrch()
	a, b := coretest.NewFakeConn("a"), coretest.NewFakeConn("b")
	o.Connect(user("u"), a)
	o.Connect(user("v"), b)

	o.Shutdown()

	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
}

// hookRooms runs a callback right before the next LeaveAll.
type hookRooms struct {
	core.RoomTable
	beforeLeaveAll func()
}

func (h *hookRooms) LeaveAll(user domain.UserID) []domain.BoardID {
	if f := h.beforeLeaveAll; f != nil {
		h.beforeLeaveAll = nil
		f()
	}
	return h.RoomTable.LeaveAll(user)
}

func presenceEvents(c *coretest.FakeConn) []string {
	var out []string
	for _, typ := range c.Types() {
		if typ == EventUserOnline || typ == EventUserOffline {
			out = append(out, typ)
		}
	}
	return out
}

func TestReconnectDuringLastDisconnectKeepsNewTab(t *testing.T) {
	o := newOrch()
	rooms := &hookRooms{RoomTable: app.NewRoomManager()}
	o.Rooms = rooms

	watcher := coretest.NewFakeConn("w")
	o.Connect(user("w"), watcher)
	sessP := o.Connect(user("p"), coretest.NewFakeConn("p1"))
	o.Join(sessP, "b1")

	u := user("u")
	sessA := o.Connect(u, coretest.NewFakeConn("a"))
	o.Join(sessA, "b1")
	watcher.Reset()

	connB := coretest.NewFakeConn("b")
	done := make(chan struct{})
	rooms.beforeLeaveAll = func() {
		go func() {
			defer close(done)
			sessB := o.Connect(u, connB)
			o.Join(sessB, "b1")
		}()
		// Give the new tab a chance to race the cleanup.
		time.Sleep(20 * time.Millisecond)
	}

	o.Disconnect(sessA)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect never completed")
	}

	assert.True(t, o.Registry.Online(u.ID))
	assert.Contains(t, o.ActiveUsers("b1"), u.ID)
	assert.Equal(t, []string{EventUserOffline, EventUserOnline}, presenceEvents(watcher))
	assert.Equal(t, 0, connB.Count(EventUserOffline))

	o.Dispatch(sessP, &TaskCreated{BoardID: "b1", Task: json.RawMessage(`{}`)})
	assert.Equal(t, 1, connB.Count("task:created"))
}

func TestConcurrentTabsOfOneUser(t *testing.T) {
	o := newOrch()
	watcher := coretest.NewFakeConn("w")
	o.Connect(user("w"), watcher)
	watcher.Reset()

	const tabs = 20
	done := make(chan struct{}, tabs)
	for i := 0; i < tabs; i++ {
		go func() {
			sess := o.Connect(user("u"), coretest.NewFakeConn(string(rune('a'+i))))
			o.Join(sess, "b1")
			o.Disconnect(sess)
			done <- struct{}{}
		}()
	}
	for i := 0; i < tabs; i++ {
		<-done
	}

	assert.False(t, o.Registry.Online("u"))
	assert.Empty(t, o.ActiveUsers("b1"))
	assert.Equal(t, watcher.Count(EventUserOnline), watcher.Count(EventUserOffline))
	assert.Zero(t, o.users.size())
}

func TestMalformedErrorNamesRejectedType(t *testing.T) {
	o := newOrch()
	conn := coretest.NewFakeConn("a")
	sess := o.Connect(user("u"), conn)
	conn.Reset()

	_ = o.HandleFrame(sess, frame(t, "task:moved", map[string]string{"boardId": "b1"}))
	_ = o.HandleFrame(sess, []byte("{broken"))

	msgs := conn.Messages()
	require.Len(t, msgs, 2)
	var first, second diagnostic
	require.NoError(t, json.Unmarshal(msgs[0].Data, &first))
	require.NoError(t, json.Unmarshal(msgs[1].Data, &second))
	assert.Equal(t, "task:moved", first.Type)
	assert.Equal(t, "malformed event", first.Message)
	assert.Empty(t, second.Type)
}

func TestEventLabelBucketsUnknownNames(t *testing.T) {
	assert.Equal(t, "task:created", eventLabel("task:created"))
	assert.Equal(t, EventNotification, eventLabel(EventNotification))
	assert.Equal(t, otherEvent, eventLabel("custom:anything"))
	assert.Equal(t, otherEvent, eventLabel(""))
}

var _ core.SignalConnection = (*coretest.FakeConn)(nil)
