package gateway

import (
	stdjson "encoding/json"
	"time"

	"github.com/gofrs/uuid"

	"github.com/traPtitech/calQ/model"
)

// クライアント→サーバーコマンドタイプ
const (
	CommandJoin        = "join"
	CommandLeave       = "leave"
	CommandMessage     = "message"
	CommandTypingStart = "typing_start"
	CommandTypingStop  = "typing_stop"
	CommandCallOffer   = "call_offer"
	CommandCallRinging = "call_ringing"
	CommandCallAnswer  = "call_answer"
	CommandCallReject  = "call_reject"
	CommandCallIce     = "call_ice"
	CommandCallHangup  = "call_hangup"
)

// command クライアントコマンドの外形
//
// bodyはtypeごとのボディ構造体に二段階でデコードされる。
type command struct {
	Type string          `json:"type"`
	Body stdjson.RawMessage `json:"body"`
}

type joinBody struct {
	RoomID uuid.UUID `json:"roomId"`
}

type leaveBody struct {
	RoomID uuid.UUID `json:"roomId"`
}

type messageBody struct {
	RoomID  uuid.UUID `json:"roomId"`
	Content string    `json:"content"`
	// Echo trueの場合、送信者自身にも配信する
	Echo bool `json:"echo"`
}

type typingBody struct {
	RoomID uuid.UUID `json:"roomId"`
}

type callOfferBody struct {
	ReceiverID uuid.UUID       `json:"receiverId"`
	ChannelID  *uuid.UUID      `json:"channelId"`
	Type       model.CallType  `json:"callType"`
	Offer      stdjson.RawMessage `json:"offer"`
}

type callRefBody struct {
	CallID uuid.UUID `json:"callId"`
}

type callAnswerBody struct {
	CallID uuid.UUID       `json:"callId"`
	Answer stdjson.RawMessage `json:"answer"`
}

type callIceBody struct {
	CallID    uuid.UUID       `json:"callId"`
	Candidate stdjson.RawMessage `json:"candidate"`
}

type callHangupBody struct {
	CallID uuid.UUID `json:"callId"`
	Reason string    `json:"reason"`
}

// MessagePayload ルームに配信されるメッセージ
type MessagePayload struct {
	RoomID    uuid.UUID `json:"roomId"`
	UserID    uuid.UUID `json:"userId"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ErrorPayload クライアントへのエラー応答
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// エラー応答コード
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnknownCommand   = "unknown_command"
	ErrCodeNotConnected     = "not_connected"
	ErrCodeCallNotFound     = "call_not_found"
	ErrCodeInvalidCallState = "invalid_call_state"
	ErrCodeInternal         = "internal_error"
)
