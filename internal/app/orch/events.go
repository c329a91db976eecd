package orch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/taskboard-relay/internal/core"
	"github.com/dkeye/taskboard-relay/internal/domain"
	"github.com/tidwall/gjson"
)

var (
	ErrMalformed    = errors.New("malformed event")
	ErrUnknownEvent = errors.New("unknown event")
)

// Kind names an inbound client event.
type Kind string

const (
	KindBoardJoin          Kind = "board:join"
	KindBoardLeave         Kind = "board:leave"
	KindBoardCreated       Kind = "board:created"
	KindBoardUpdated       Kind = "board:updated"
	KindBoardDeleted       Kind = "board:deleted"
	KindBoardMemberAdded   Kind = "board:member-added"
	KindBoardMemberRemoved Kind = "board:member-removed"
	KindTaskCreated        Kind = "task:created"
	KindTaskUpdated        Kind = "task:updated"
	KindTaskMoved          Kind = "task:moved"
	KindTaskDeleted        Kind = "task:deleted"
	KindTaskAssigned       Kind = "task:assigned"
	KindTaskUnassigned     Kind = "task:unassigned"
	KindTaskViewing        Kind = "task:viewing"
	KindTaskStopViewing    Kind = "task:stop-viewing"
	KindCommentAdded       Kind = "comment:added"
	KindCommentUpdated     Kind = "comment:updated"
	KindCommentDeleted     Kind = "comment:deleted"
	KindTypingStart        Kind = "typing:start"
	KindTypingStop         Kind = "typing:stop"
	KindAttachmentUploaded Kind = "attachment:uploaded"
	KindAttachmentDeleted  Kind = "attachment:deleted"
	KindNotificationSend   Kind = "notification:send"
)

// Server -> client event names that differ from the inbound kind.
const (
	EventUserOnline          = "user:online"
	EventUserOffline         = "user:offline"
	EventBoardActiveUsers    = "board:active-users"
	EventBoardUserJoined     = "board:user-joined"
	EventBoardUserLeft       = "board:user-left"
	EventBoardMemberJoined   = "board:member-joined"
	EventBoardMemberLeft     = "board:member-left"
	EventTaskAssigneeAdded   = "task:assignee-added"
	EventTaskAssigneeRemoved = "task:assignee-removed"
	EventTaskViewerJoined    = "task:viewer-joined"
	EventTaskViewerLeft      = "task:viewer-left"
	EventCommentMentioned    = "comment:mentioned"
	EventNotification        = "notification:received"
	EventError               = "error"
)

// outbound lists every event name the relay itself produces; anything else
// reaching Deliver came from a server-side caller.
var outbound = map[string]struct{}{
	EventUserOnline: {}, EventUserOffline: {}, EventBoardActiveUsers: {},
	EventBoardUserJoined: {}, EventBoardUserLeft: {}, EventBoardMemberJoined: {},
	EventBoardMemberLeft: {}, EventTaskAssigneeAdded: {}, EventTaskAssigneeRemoved: {},
	EventTaskViewerJoined: {}, EventTaskViewerLeft: {}, EventCommentMentioned: {},
	EventNotification: {}, EventError: {},
}

// otherEvent is the metrics label for event names outside the vocabulary.
const otherEvent = "other"

func eventLabel(event string) string {
	if _, ok := outbound[event]; ok {
		return event
	}
	if _, ok := inbound[Kind(event)]; ok {
		return event
	}
	return otherEvent
}

// Inbound is the closed set of client events. Every variant knows its
// own fan-out; board:join and board:leave additionally mutate room state.
type Inbound interface {
	Kind() Kind
	fanout(from origin) []Delivery
}

// Actor decorates relayed events with who caused them.
type Actor struct {
	ID     domain.UserID `json:"id"`
	Name   string        `json:"name"`
	Avatar string        `json:"avatar,omitempty"`
}

type origin struct {
	user domain.User
	conn core.ConnID
}

func (o origin) actor() Actor {
	return Actor{ID: o.user.ID, Name: o.user.Name, Avatar: o.user.Avatar}
}

// peers targets every connection in the room except the one that sent the event.
func (o origin) peers(board domain.BoardID) Target {
	return Target{Kind: TargetRoom, Board: board, ExceptConn: o.conn}
}

type eventDef struct {
	required []string
	new      func() Inbound
}

var inbound = map[Kind]eventDef{
	KindBoardJoin:          {[]string{"boardId"}, func() Inbound { return &BoardJoin{} }},
	KindBoardLeave:         {[]string{"boardId"}, func() Inbound { return &BoardLeave{} }},
	KindBoardCreated:       {[]string{"board"}, func() Inbound { return &BoardCreated{} }},
	KindBoardUpdated:       {[]string{"boardId", "board"}, func() Inbound { return &BoardUpdated{} }},
	KindBoardDeleted:       {[]string{"boardId"}, func() Inbound { return &BoardDeleted{} }},
	KindBoardMemberAdded:   {[]string{"boardId", "memberId"}, func() Inbound { return &BoardMemberAdded{} }},
	KindBoardMemberRemoved: {[]string{"boardId", "memberId"}, func() Inbound { return &BoardMemberRemoved{} }},
	KindTaskCreated:        {[]string{"boardId", "task"}, func() Inbound { return &TaskCreated{} }},
	KindTaskUpdated:        {[]string{"boardId", "task"}, func() Inbound { return &TaskUpdated{} }},
	KindTaskMoved:          {[]string{"boardId", "taskId", "destinationColumnId"}, func() Inbound { return &TaskMoved{} }},
	KindTaskDeleted:        {[]string{"boardId", "taskId"}, func() Inbound { return &TaskDeleted{} }},
	KindTaskAssigned:       {[]string{"boardId", "taskId", "assigneeId"}, func() Inbound { return &TaskAssigned{} }},
	KindTaskUnassigned:     {[]string{"boardId", "taskId", "assigneeId"}, func() Inbound { return &TaskUnassigned{} }},
	KindTaskViewing:        {[]string{"boardId", "taskId"}, func() Inbound { return &TaskViewing{} }},
	KindTaskStopViewing:    {[]string{"boardId", "taskId"}, func() Inbound { return &TaskStopViewing{} }},
	KindCommentAdded:       {[]string{"boardId", "taskId", "comment"}, func() Inbound { return &CommentAdded{} }},
	KindCommentUpdated:     {[]string{"boardId", "taskId", "comment"}, func() Inbound { return &CommentUpdated{} }},
	KindCommentDeleted:     {[]string{"boardId", "taskId", "commentId"}, func() Inbound { return &CommentDeleted{} }},
	KindTypingStart:        {[]string{"boardId", "taskId"}, func() Inbound { return &Typing{kind: KindTypingStart} }},
	KindTypingStop:         {[]string{"boardId", "taskId"}, func() Inbound { return &Typing{kind: KindTypingStop} }},
	KindAttachmentUploaded: {[]string{"boardId", "taskId", "attachment"}, func() Inbound { return &AttachmentUploaded{} }},
	KindAttachmentDeleted:  {[]string{"boardId", "taskId", "attachmentId"}, func() Inbound { return &AttachmentDeleted{} }},
	KindNotificationSend:   {[]string{"recipientId", "notification"}, func() Inbound { return &NotificationSend{} }},
}

// Decode parses a client frame {"type": ..., "data": {...}}. Required
// identifiers are checked before the payload is decoded, so a rejected
// frame never reaches the tables.
func Decode(raw []byte) (Inbound, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	typ := gjson.GetBytes(raw, "type")
	if typ.Type != gjson.String || typ.Str == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	kind := Kind(typ.Str)
	def, ok := inbound[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, kind)
	}

	data := gjson.GetBytes(raw, "data")
	body := []byte(data.Raw)
	// board:join / board:leave also accept a bare board id.
	if (kind == KindBoardJoin || kind == KindBoardLeave) && data.Type == gjson.String {
		body, _ = json.Marshal(map[string]string{"boardId": data.Str})
	}
	if !gjson.ParseBytes(body).IsObject() {
		return nil, fmt.Errorf("%w: %s: data must be an object", ErrMalformed, kind)
	}
	for _, path := range def.required {
		v := gjson.GetBytes(body, path)
		if !v.Exists() || v.Type == gjson.Null || (v.Type == gjson.String && v.Str == "") {
			return nil, fmt.Errorf("%w: %s: missing %s", ErrMalformed, kind, path)
		}
	}

	ev := def.new()
	if err := json.Unmarshal(body, ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
	}
	return ev, nil
}

// ---- board ----

type BoardJoin struct {
	BoardID domain.BoardID `json:"boardId"`
}

func (*BoardJoin) Kind() Kind                { return KindBoardJoin }
func (*BoardJoin) fanout(origin) []Delivery { return nil }

type BoardLeave struct {
	BoardID domain.BoardID `json:"boardId"`
}

func (*BoardLeave) Kind() Kind                { return KindBoardLeave }
func (*BoardLeave) fanout(origin) []Delivery { return nil }

type BoardCreated struct {
	Board     json.RawMessage `json:"board"`
	MemberIDs []domain.UserID `json:"memberIds"`
}

func (*BoardCreated) Kind() Kind { return KindBoardCreated }
func (e *BoardCreated) fanout(o origin) []Delivery {
	out := make([]Delivery, 0, len(e.MemberIDs))
	for _, m := range e.MemberIDs {
		out = append(out, Delivery{
			Target: ToUser(m),
			Event:  string(KindBoardCreated),
			Data: struct {
				Board     json.RawMessage `json:"board"`
				CreatedBy Actor           `json:"createdBy"`
			}{e.Board, o.actor()},
		})
	}
	return out
}

type BoardUpdated struct {
	BoardID domain.BoardID  `json:"boardId"`
	Board   json.RawMessage `json:"board"`
}

func (*BoardUpdated) Kind() Kind { return KindBoardUpdated }
func (e *BoardUpdated) fanout(o origin) []Delivery {
	return []Delivery{{
		Target: o.peers(e.BoardID),
		Event:  string(KindBoardUpdated),
		Data: struct {
			Board     json.RawMessage `json:"board"`
			UpdatedBy Actor           `json:"updatedBy"`
		}{e.Board, o.actor()},
	}}
}

type BoardDeleted struct {
	BoardID domain.BoardID `json:"boardId"`
}

func (*BoardDeleted) Kind() Kind { return KindBoardDeleted }

// fanout includes the sender: every open tab of the board must close it.
func (e *BoardDeleted) fanout(o origin) []Delivery {
	return []Delivery{{
		Target: ToRoom(e.BoardID),
		Event:  string(KindBoardDeleted),
		Data: struct {
			BoardID   domain.BoardID `json:"boardId"`
			DeletedBy Actor          `json:"deletedBy"`
		}{e.BoardID, o.actor()},
	}}
}

type BoardMemberAdded struct {
	BoardID  domain.BoardID  `json:"boardId"`
	MemberID domain.UserID   `json:"memberId"`
	Board    json.RawMessage `json:"board,omitempty"`
	Member   json.RawMessage `json:"member,omitempty"`
}

func (*BoardMemberAdded) Kind() Kind { return KindBoardMemberAdded }
func (e *BoardMemberAdded) fanout(o origin) []Delivery {
	return []Delivery{
		{
			Target: ToUser(e.MemberID),
			Event:  string(KindBoardMemberAdded),
			Data: struct {
				Board   json.RawMessage `json:"board,omitempty"`
				AddedBy Actor           `json:"addedBy"`
			}{e.Board, o.actor()},
		},
		{
			Target: o.peers(e.BoardID),
			Event:  EventBoardMemberJoined,
			Data: struct {
				Member  json.RawMessage `json:"member,omitempty"`
				BoardID domain.BoardID  `json:"boardId"`
			}{e.Member, e.BoardID},
		},
	}
}

type BoardMemberRemoved struct {
	BoardID  domain.BoardID `json:"boardId"`
	MemberID domain.UserID  `json:"memberId"`
}

func (*BoardMemberRemoved) Kind() Kind { return KindBoardMemberRemoved }
func (e *BoardMemberRemoved) fanout(o origin) []Delivery {
	return []Delivery{
		{
			Target: ToUser(e.MemberID),
			Event:  string(KindBoardMemberRemoved),
			Data: struct {
				BoardID   domain.BoardID `json:"boardId"`
				RemovedBy Actor          `json:"removedBy"`
			}{e.BoardID, o.actor()},
		},
		{
			Target: o.peers(e.BoardID),
			Event:  EventBoardMemberLeft,
			Data: struct {
				MemberID domain.UserID  `json:"memberId"`
				BoardID  domain.BoardID `json:"boardId"`
			}{e.MemberID, e.BoardID},
		},
	}
}

// ---- task ----

type TaskCreated struct {
	BoardID domain.BoardID  `json:"boardId"`
	Task    json.RawMessage `json:"task"`
}

func (*TaskCreated) Kind() Kind { return KindTaskCreated }
func (e *TaskCreated) fanout(o origin) []Delivery {
	return []Delivery{{
		Target: o.peers(e.BoardID),
		Event:  string(KindTaskCreated),
		Data: struct {
			Task      json.RawMessage `json:"task"`
			CreatedBy Actor           `json:"createdBy"`
		}{e.Task, o.actor()},
	}}
}

type TaskUpdated struct {
	BoardID domain.BoardID  `json:"boardId"`
	Task    json.RawMessage `json:"task"`
}

func (*TaskUpdated) Kind() Kind { return KindTaskUpdated }
func (e *TaskUpdated) fanout(o origin) []Delivery {
	return []Delivery{{
		Target: o.peers(e.BoardID),
		Event:  string(KindTaskUpdated),
		Data: struct {
			Task      json.RawMessage `json:"task"`
			UpdatedBy Actor           `json:"updatedBy"`
		}{e.Task, o.actor()},
	}}
}

type TaskMoved struct {
	BoardID             domain.BoardID `json:"boardId"`
	TaskID              domain.TaskID  `json:"taskId"`
	SourceColumnID      string         `json:"sourceColumnId,omitempty"`
	DestinationColumnID string         `json:"destinationColumnId"`
	NewPosition         int            `json:"newPosition"`
}

func (*TaskMoved) Kind() Kind { return KindTaskMoved }
func (e *TaskMoved) fanout(o origin) []Delivery {
	return []Delivery{{
		Target: o.peers(e.BoardID),
		Event:  string(KindTaskMoved),
		Data: struct {
			TaskID              domain.TaskID `json:"taskId"`
			SourceColumnID      string        `json:"sourceColumnId,omitempty"`
			DestinationColumnID string        `json:"destinationColumnId"`
			NewPosition         int           `json:"newPosition"`
			MovedBy             Actor         `json:"movedBy"`
		}{e.TaskID, e.SourceColumnID, e.DestinationColumnID, e.NewPosition, o.actor()},
	}}
}

type TaskDeleted struct {
	BoardID domain.BoardID `json:"boardId"`
	TaskID  domain.TaskID  `json:"taskId"`
}

func (*TaskDeleted) Kind() Kind { return KindTaskDeleted }
func (e *TaskDeleted) fanout(o origin) []Delivery {
	return []Delivery{{
		Target: o.peers(e.BoardID),
		Event:  string(KindTaskDeleted),
		Data: struct {
			TaskID    domain.TaskID  `json:"taskId"`
			BoardID   domain.BoardID `json:"boardId"`
			DeletedBy Actor          `json:"deletedBy"`
		}{e.TaskID, e.BoardID, o.actor()},
	}}
}

type TaskAssigned struct {
	BoardID    domain.BoardID  `json:"boardId"`
	TaskID     domain.TaskID   `json:"taskId"`
	AssigneeID domain.UserID   `json:"assigneeId"`
	Task       json.RawMessage `json:"task,omitempty"`
	Assignee   json.RawMessage `json:"assignee,omitempty"`
}

func (*TaskAssigned) Kind() Kind { return KindTaskAssigned }
func (e *TaskAssigned) fanout(o origin) []Delivery {
	return []Delivery{
		{
			Target: ToUser(e.AssigneeID),
			Event:  string(KindTaskAssigned),
			Data: struct {
				Task       json.RawMessage `json:"task,omitempty"`
				AssignedBy Actor           `json:"assignedBy"`
			}{e.Task, o.actor()},
		},
		{
			Target: o.peers(e.BoardID),
			Event:  EventTaskAssigneeAdded,
			Data: struct {
				TaskID   domain.TaskID   `json:"taskId"`
				Assignee json.RawMessage `json:"assignee,omitempty"`
			}{e.TaskID, e.Assignee},
		},
	}
}

type TaskUnassigned struct {
	BoardID    domain.BoardID `json:"boardId"`
	TaskID     domain.TaskID  `json:"taskId"`
	AssigneeID domain.UserID  `json:"assigneeId"`
}

func (*TaskUnassigned) Kind() Kind { return KindTaskUnassigned }
func (e *TaskUnassigned) fanout(o origin) []Delivery {
	return []Delivery{
		{
			Target: ToUser(e.AssigneeID),
			Event:  string(KindTaskUnassigned),
			Data: struct {
				TaskID  domain.TaskID  `json:"taskId"`
				BoardID domain.BoardID `json:"boardId"`
			}{e.TaskID, e.BoardID},
		},
		{
			Target: o.peers(e.BoardID),
			Event:  EventTaskAssigneeRemoved,
			Data: struct {
				TaskID     domain.TaskID `json:"taskId"`
				AssigneeID domain.UserID `json:"assigneeId"`
			}{e.TaskID, e.AssigneeID},
		},
	}
}

type TaskViewing struct {
	BoardID domain.BoardID `json:"boardId"`
	TaskID  domain.TaskID  `json:"taskId"`
}

func (*TaskViewing) Kind() Kind { return KindTaskViewing }
func (e *TaskViewing) fanout(o origin) []Delivery {
	return []Delivery{{
		Target: o.peers(e.BoardID),
		Event:  EventTaskViewerJoined,
		Data: struct {
			TaskID domain.TaskID `json:"taskId"`
			Viewer Actor         `json:"viewer"`
		}{e.TaskID, o.actor()},
	}}
}

type TaskStopViewing struct {
	BoardID domain.BoardID `json:"boardId"`
	TaskID  domain.TaskID  `json:"taskId"`
}

func (*TaskStopViewing) Kind() Kind { return KindTaskStopViewing }
func (e *TaskStopViewing) fanout(o origin) []Delivery {
	return []Delivery{{
		Target: o.peers(e.BoardID),
		Event:  EventTaskViewerLeft,
		Data: struct {
			TaskID   domain.TaskID `json:"taskId"`
			ViewerID domain.UserID `json:"viewerId"`
		}{e.TaskID, o.user.ID},
	}}
}

// ---- comment ----

type CommentAdded struct {
	BoardID  domain.BoardID  `json:"boardId"`
	TaskID   domain.TaskID   `json:"taskId"`
	Comment  json.RawMessage `json:"comment"`
	Mentions []domain.UserID `json:"mentions,omitempty"`
}

func (*CommentAdded) Kind() Kind { return KindCommentAdded }
func (e *CommentAdded) fanout(o origin) []Delivery {
	out := make([]Delivery, 0, 1+len(e.Mentions))
	out = append(out, Delivery{
		Target: o.peers(e.BoardID),
		Event:  string(KindCommentAdded),
		Data: struct {
			TaskID  domain.TaskID   `json:"taskId"`
			Comment json.RawMessage `json:"comment"`
			Author  Actor           `json:"author"`
		}{e.TaskID, e.Comment, o.actor()},
	})
	for _, m := range e.Mentions {
		out = append(out, Delivery{
			Target: ToUser(m),
			Event:  EventCommentMentioned,
			Data: struct {
				TaskID      domain.TaskID   `json:"taskId"`
				Comment     json.RawMessage `json:"comment"`
				MentionedBy Actor           `json:"mentionedBy"`
			}{e.TaskID, e.Comment, o.actor()},
		})
	}
	return out
}

type CommentUpdated struct {
	BoardID domain.BoardID  `json:"boardId"`
	TaskID  domain.TaskID   `json:"taskId"`
	Comment json.RawMessage `json:"comment"`
}

func (*CommentUpdated) Kind() Kind { return KindCommentUpdated }
func (e *CommentUpdated) fanout(o origin) []Delivery {
	return []Delivery{{
		Target: o.peers(e.BoardID),
		Event:  string(KindCommentUpdated),
		Data: struct {
			TaskID  domain.TaskID   `json:"taskId"`
			Comment json.RawMessage `json:"comment"`
		}{e.TaskID, e.Comment},
	}}
}

type CommentDeleted struct {
	BoardID   domain.BoardID `json:"boardId"`
	TaskID    domain.TaskID  `json:"taskId"`
	CommentID string         `json:"commentId"`
}

func (*CommentDeleted) Kind() Kind { return KindCommentDeleted }
func (e *CommentDeleted) fanout(o origin) []Delivery {
	return []Delivery{{
		Target: o.peers(e.BoardID),
		Event:  string(KindCommentDeleted),
		Data: struct {
			TaskID    domain.TaskID `json:"taskId"`
			CommentID string        `json:"commentId"`
		}{e.TaskID, e.CommentID},
	}}
}

// ---- typing ----

type Typing struct {
	kind    Kind
	BoardID domain.BoardID `json:"boardId"`
	TaskID  domain.TaskID  `json:"taskId"`
}

func (e *Typing) Kind() Kind { return e.kind }
func (e *Typing) fanout(o origin) []Delivery {
	var data any
	if e.kind == KindTypingStart {
		data = struct {
			TaskID domain.TaskID `json:"taskId"`
			User   Actor         `json:"user"`
		}{e.TaskID, Actor{ID: o.user.ID, Name: o.user.Name}}
	} else {
		data = struct {
			TaskID domain.TaskID `json:"taskId"`
			UserID domain.UserID `json:"userId"`
		}{e.TaskID, o.user.ID}
	}
	return []Delivery{{Target: o.peers(e.BoardID), Event: string(e.kind), Data: data}}
}

// ---- attachment ----

type AttachmentUploaded struct {
	BoardID    domain.BoardID  `json:"boardId"`
	TaskID     domain.TaskID   `json:"taskId"`
	Attachment json.RawMessage `json:"attachment"`
}

func (*AttachmentUploaded) Kind() Kind { return KindAttachmentUploaded }
func (e *AttachmentUploaded) fanout(o origin) []Delivery {
	return []Delivery{{
		Target: o.peers(e.BoardID),
		Event:  string(KindAttachmentUploaded),
		Data: struct {
			TaskID     domain.TaskID   `json:"taskId"`
			Attachment json.RawMessage `json:"attachment"`
			UploadedBy Actor           `json:"uploadedBy"`
		}{e.TaskID, e.Attachment, o.actor()},
	}}
}

type AttachmentDeleted struct {
	BoardID      domain.BoardID `json:"boardId"`
	TaskID       domain.TaskID  `json:"taskId"`
	AttachmentID string         `json:"attachmentId"`
}

func (*AttachmentDeleted) Kind() Kind { return KindAttachmentDeleted }
func (e *AttachmentDeleted) fanout(o origin) []Delivery {
	return []Delivery{{
		Target: o.peers(e.BoardID),
		Event:  string(KindAttachmentDeleted),
		Data: struct {
			TaskID       domain.TaskID `json:"taskId"`
			AttachmentID string        `json:"attachmentId"`
		}{e.TaskID, e.AttachmentID},
	}}
}

// ---- notification ----

type NotificationSend struct {
	RecipientID  domain.UserID   `json:"recipientId"`
	Notification json.RawMessage `json:"notification"`
}

func (*NotificationSend) Kind() Kind { return KindNotificationSend }
func (e *NotificationSend) fanout(origin) []Delivery {
	return []Delivery{{
		Target: ToUser(e.RecipientID),
		Event:  EventNotification,
		Data: struct {
			Notification json.RawMessage `json:"notification"`
		}{e.Notification},
	}}
}
