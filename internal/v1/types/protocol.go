package types

import "encoding/json"

// ClientMessage is one inbound JSON frame.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage is one outbound JSON frame.
type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Client → server message types.
const (
	MsgCreateRoom     = "CREATE_ROOM"
	MsgJoinRoom       = "JOIN_ROOM"
	MsgLeaveRoom      = "LEAVE_ROOM"
	MsgJoinQueue      = "JOIN_QUEUE"
	MsgLeaveQueue     = "LEAVE_QUEUE"
	MsgRequestRejoin  = "REQUEST_REJOIN"
	MsgMakeMove       = "MAKE_MOVE"
	MsgGetLegalMoves  = "GET_LEGAL_MOVES"
	MsgResign         = "RESIGN"
	MsgOfferDraw      = "OFFER_DRAW"
	MsgAcceptDraw     = "ACCEPT_DRAW"
	MsgDeclineDraw    = "DECLINE_DRAW"
	MsgChatMessage    = "CHAT_MESSAGE"
	MsgTyping         = "TYPING"
	MsgGetChatHistory = "GET_CHAT_HISTORY"
	MsgLoadGame       = "LOAD_GAME"
)

// Server → client event types.
const (
	EventRoomCreated      = "ROOM_CREATED"
	EventRoomUpdated      = "ROOM_UPDATED"
	EventGameLoaded       = "GAME_LOADED"
	EventGameUpdated      = "GAME_UPDATED"
	EventRejoinGame       = "REJOIN_GAME"
	EventLegalMovesUpdate = "LEGAL_MOVES_UPDATE"
	EventTimerUpdate      = "TIMER_UPDATE"
	EventIllegalMove      = "ILLEGAL_MOVE"
	EventPlayerResigned   = "PLAYER_RESIGNED"
	EventDrawOffered      = "DRAW_OFFERED"
	EventDrawOfferSent    = "DRAW_OFFER_SENT"
	EventDrawAccepted     = "DRAW_ACCEPTED"
	EventDrawDeclined     = "DRAW_DECLINED"
	EventTimeOut          = "TIME_OUT"
	EventTyping           = "TYPING"
	EventChatHistory      = "CHAT_HISTORY"
	EventQueueTimeout     = "QUEUE_TIMEOUT"
	EventQueueLeft        = "QUEUE_LEFT"
	EventLeaveRoom        = "LEAVE_ROOM"
	EventGameNotFound     = "GAME_NOT_FOUND"
	EventInvalidGameID    = "INVALID_GAME_ID"
	EventUnauthorized     = "UNAUTHORIZED"
	EventLoadGameError    = "LOAD_GAME_ERROR"
	EventError            = "ERROR"
)

// WebSocket close codes. RATE_LIMIT_EXCEEDED shares 4001 with AUTH_FAILED in
// the deployed protocol; both are treated as the same class by clients.
const (
	CloseNormal            = 1000
	CloseAuthFailed        = 4001
	CloseRateLimitExceeded = 4001
	CloseInvalidMessage    = 4002
	CloseNotFound          = 4003
	CloseUnauthorized      = 4004
)

// --- Inbound payload shapes ---

type CreateRoomPayload struct {
	Type       RoomType `json:"type"`
	InviteCode string   `json:"inviteCode,omitempty"`
}

type JoinRoomPayload struct {
	RoomID     RoomID `json:"roomId"`
	InviteCode string `json:"inviteCode,omitempty"`
}

type LeaveRoomPayload struct {
	RoomID RoomID `json:"roomId"`
}

type JoinQueuePayload struct {
	IsGuest bool `json:"isGuest"`
}

type RejoinPayload struct {
	GameID GameID `json:"gameId"`
}

type MovePayload struct {
	GameID    GameID `json:"gameId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type LegalMovesPayload struct {
	GameID GameID `json:"gameId"`
	Square string `json:"square"`
}

type GameRefPayload struct {
	GameID GameID `json:"gameId"`
}

type ChatPayload struct {
	GameID GameID `json:"gameId"`
	Text   string `json:"text"`
}

// --- Outbound payload shapes ---

type TimerUpdatePayload struct {
	GameID GameID `json:"gameId"`
	White  int    `json:"white"`
	Black  int    `json:"black"`
}

type IllegalMovePayload struct {
	GameID   GameID `json:"gameId"`
	Reason   string `json:"reason"`
	Attempts int64  `json:"attempts"`
}

type LegalMovesUpdatePayload struct {
	GameID  GameID   `json:"gameId"`
	Square  string   `json:"square"`
	Targets []string `json:"targets"`
}

type DrawOfferPayload struct {
	GameID      GameID `json:"gameId"`
	DisplayName string `json:"displayName"`
}

type PlayerResignedPayload struct {
	Game        *Game  `json:"game"`
	DisplayName string `json:"displayName"`
}

type TimeOutPayload struct {
	Game  *Game `json:"game"`
	Color Color `json:"color"`
}

type TypingPayload struct {
	GameID GameID `json:"gameId"`
	UserID UserID `json:"userId"`
}

type ChatHistoryPayload struct {
	GameID   GameID      `json:"gameId"`
	Messages []ChatEntry `json:"messages"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
