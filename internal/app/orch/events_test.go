package orch

import (
	"testing"

	"github.com/dkeye/taskboard-relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    Kind
		wantErr error
	}{
		{"join object", `{"type":"board:join","data":{"boardId":"b1"}}`, KindBoardJoin, nil},
		{"join bare id", `{"type":"board:join","data":"b1"}`, KindBoardJoin, nil},
		{"leave bare id", `{"type":"board:leave","data":"b1"}`, KindBoardLeave, nil},
		{"typing start", `{"type":"typing:start","data":{"boardId":"b1","taskId":"t1"}}`, KindTypingStart, nil},
		{"typing stop", `{"type":"typing:stop","data":{"boardId":"b1","taskId":"t1"}}`, KindTypingStop, nil},
		{"not json", `{"type":`, "", ErrMalformed},
		{"no type", `{"data":{}}`, "", ErrMalformed},
		{"numeric type", `{"type":5}`, "", ErrMalformed},
		{"unknown", `{"type":"board:explode","data":{}}`, "", ErrUnknownEvent},
		{"data not object", `{"type":"task:deleted","data":[1]}`, "", ErrMalformed},
		{"missing field", `{"type":"task:deleted","data":{"boardId":"b1"}}`, "", ErrMalformed},
		{"empty field", `{"type":"task:deleted","data":{"boardId":"","taskId":"t"}}`, "", ErrMalformed},
		{"null field", `{"type":"notification:send","data":{"recipientId":"u","notification":null}}`, "", ErrMalformed},
		{"wrong field type", `{"type":"task:moved","data":{"boardId":"b","taskId":"t","destinationColumnId":"c","newPosition":"x"}}`, "", ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.raw))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, ev)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, ev.Kind())
		})
	}
}

func TestDecodeCarriesPayload(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"task:moved","data":{"boardId":"b1","taskId":"t1","sourceColumnId":"c1","destinationColumnId":"c2","newPosition":3}}`))
	require.NoError(t, err)
	moved, ok := ev.(*TaskMoved)
	require.True(t, ok)
	assert.Equal(t, domain.BoardID("b1"), moved.BoardID)
	assert.Equal(t, "c2", moved.DestinationColumnID)
	assert.Equal(t, 3, moved.NewPosition)
}

func TestEveryKindHasFanoutTargets(t *testing.T) {
	from := origin{user: domain.User{ID: "u", Name: "U"}, conn: "a"}
	for kind, def := range inbound {
		ev := def.new()
		assert.Equal(t, kind, ev.Kind())
		for _, d := range ev.fanout(from) {
			assert.NotZero(t, d.Target.Kind, "%s", kind)
			assert.NotEmpty(t, d.Event, "%s", kind)
			if d.Target.Kind == TargetRoom && kind != KindBoardDeleted {
				assert.Equal(t, from.conn, d.Target.ExceptConn, "%s must skip the origin connection", kind)
			}
		}
	}
}

func TestMemberAddedTargetsNewMemberAndRoom(t *testing.T) {
	from := origin{user: domain.User{ID: "u"}, conn: "a"}
	ds := (&BoardMemberAdded{BoardID: "b1", MemberID: "m"}).fanout(from)
	require.Len(t, ds, 2)
	assert.Equal(t, ToUser("m"), ds[0].Target)
	assert.Equal(t, string(KindBoardMemberAdded), ds[0].Event)
	assert.Equal(t, TargetRoom, ds[1].Target.Kind)
	assert.Equal(t, EventBoardMemberJoined, ds[1].Event)
}
