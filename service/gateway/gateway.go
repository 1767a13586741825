package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/leandro-lugaresi/hub"
	"go.uber.org/zap"

	"github.com/traPtitech/calQ/event"
	"github.com/traPtitech/calQ/model"
	"github.com/traPtitech/calQ/service/call"
	"github.com/traPtitech/calQ/service/connection"
	"github.com/traPtitech/calQ/service/room"
	"github.com/traPtitech/calQ/service/transport"
	"github.com/traPtitech/calQ/service/typing"
)

var json = jsoniter.ConfigFastest

// MessageStore 外部のメッセージストアコラボレータ
//
// メッセージ本文の永続化はこのコアの責務ではなく、委譲先の実装に任される。
type MessageStore interface {
	// SaveMessage メッセージを保存します
	SaveMessage(roomID, userID uuid.UUID, content string) error
}

type nopMessageStore struct{}

func (nopMessageStore) SaveMessage(uuid.UUID, uuid.UUID, string) error { return nil }

// NopMessageStore 何もしないMessageStore
func NopMessageStore() MessageStore {
	return nopMessageStore{}
}

// Facade ゲートウェイファサード
//
// トランスポート層からの接続・切断・受信イベントとHTTPコントローラーからの問い合わせの
// 唯一の入口。1コネクションのコマンドはそのセッションの読み込みループ上で直列に
// 処理されるため、送信者単位の受信順序がそのまま配信順序になる。
type Facade struct {
	registry *connection.Registry
	broker   *room.Broker
	typing   *typing.Coordinator
	calls    *call.Manager
	sender   transport.Sender
	store    MessageStore
	hub      *hub.Hub
	logger   *zap.Logger
}

// NewFacade ゲートウェイファサードを生成します
func NewFacade(
	registry *connection.Registry,
	broker *room.Broker,
	typingCoordinator *typing.Coordinator,
	callManager *call.Manager,
	sender transport.Sender,
	store MessageStore,
	h *hub.Hub,
	logger *zap.Logger,
) *Facade {
	return &Facade{
		registry: registry,
		broker:   broker,
		typing:   typingCoordinator,
		calls:    callManager,
		sender:   sender,
		store:    store,
		hub:      h,
		logger:   logger.Named("gateway"),
	}
}

// HandleConnect トランスポート接続時の処理を行います
func (f *Facade) HandleConnect(connID string, userID uuid.UUID, username string) error {
	if _, err := f.registry.Add(connID, userID, username); err != nil {
		return err
	}
	f.hub.Publish(hub.Message{
		Name: event.SessionConnected,
		Fields: hub.Fields{
			"conn_id": connID,
			"user_id": userID,
		},
	})
	return nil
}

// HandleDisconnect トランスポート切断時の処理を行います
//
// 参加中ルームからの退出、入力状態の破棄、関与する通話の解決を行ってから
// コネクションを登録解除する。
func (f *Facade) HandleDisconnect(connID string) {
	conn, ok := f.registry.Get(connID)
	if !ok {
		return
	}

	f.calls.HandleDisconnect(connID)
	f.broker.LeaveAll(connID)
	f.typing.StopAll(conn.UserID)

	if _, ok := f.registry.Remove(connID); ok {
		f.hub.Publish(hub.Message{
			Name: event.SessionDisconnected,
			Fields: hub.Fields{
				"conn_id": connID,
				"user_id": conn.UserID,
			},
		})
	}
}

// Dispatch 受信したクライアントコマンドを処理します
//
// コマンド処理中のパニックはこの境界で捕捉され、当該クライアントへの
// エラー応答に変換される。他のクライアントのセッションには影響しない。
func (f *Facade) Dispatch(connID string, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("panic in command handler",
				zap.String("conn_id", connID), zap.Any("reason", r))
			f.sendError(connID, ErrCodeInternal, "internal error")
		}
	}()

	conn, ok := f.registry.Get(connID)
	if !ok {
		return
	}

	var cmd command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		f.sendError(connID, ErrCodeBadRequest, "malformed command")
		return
	}

	if err := f.handleCommand(conn, &cmd); err != nil {
		f.sendError(connID, errorCode(err), err.Error())
	}
}

func (f *Facade) handleCommand(conn *connection.Connection, cmd *command) error {
	switch cmd.Type {
	case CommandJoin:
		var body joinBody
		if err := json.Unmarshal(cmd.Body, &body); err != nil || body.RoomID == uuid.Nil {
			return errBadRequest
		}
		_, err := f.broker.Join(conn.ID, body.RoomID)
		return err

	case CommandLeave:
		var body leaveBody
		if err := json.Unmarshal(cmd.Body, &body); err != nil || body.RoomID == uuid.Nil {
			return errBadRequest
		}
		f.broker.Leave(conn.ID, body.RoomID)
		return nil

	case CommandMessage:
		var body messageBody
		if err := json.Unmarshal(cmd.Body, &body); err != nil || body.RoomID == uuid.Nil {
			return errBadRequest
		}
		if err := f.store.SaveMessage(body.RoomID, conn.UserID, body.Content); err != nil {
			f.logger.Warn("failed to save message",
				zap.Stringer("room_id", body.RoomID), zap.Error(err))
		}
		payload := MessagePayload{
			RoomID:    body.RoomID,
			UserID:    conn.UserID,
			Username:  conn.Username,
			Content:   body.Content,
			CreatedAt: time.Now(),
		}
		if body.Echo {
			f.broker.Broadcast(body.RoomID, transport.EventMessage, payload)
		} else {
			f.broker.Broadcast(body.RoomID, transport.EventMessage, payload, conn.ID)
		}
		return nil

	case CommandTypingStart:
		var body typingBody
		if err := json.Unmarshal(cmd.Body, &body); err != nil || body.RoomID == uuid.Nil {
			return errBadRequest
		}
		f.typing.Start(body.RoomID, conn.UserID, conn.ID)
		return nil

	case CommandTypingStop:
		var body typingBody
		if err := json.Unmarshal(cmd.Body, &body); err != nil || body.RoomID == uuid.Nil {
			return errBadRequest
		}
		f.typing.Stop(body.RoomID, conn.UserID, conn.ID)
		return nil

	case CommandCallOffer:
		var body callOfferBody
		if err := json.Unmarshal(cmd.Body, &body); err != nil || body.ReceiverID == uuid.Nil {
			return errBadRequest
		}
		if body.Type != model.CallTypeVideo && body.Type != model.CallTypeAudio {
			return errBadRequest
		}
		_, err := f.calls.Initiate(conn.ID, body.ReceiverID, body.ChannelID, body.Type, body.Offer)
		return err

	case CommandCallRinging:
		var body callRefBody
		if err := json.Unmarshal(cmd.Body, &body); err != nil || body.CallID == uuid.Nil {
			return errBadRequest
		}
		return f.calls.MarkRinging(body.CallID)

	case CommandCallAnswer:
		var body callAnswerBody
		if err := json.Unmarshal(cmd.Body, &body); err != nil || body.CallID == uuid.Nil {
			return errBadRequest
		}
		return f.calls.RelayAnswer(body.CallID, body.Answer)

	case CommandCallReject:
		var body callRefBody
		if err := json.Unmarshal(cmd.Body, &body); err != nil || body.CallID == uuid.Nil {
			return errBadRequest
		}
		return f.calls.RelayReject(body.CallID)

	case CommandCallIce:
		var body callIceBody
		if err := json.Unmarshal(cmd.Body, &body); err != nil || body.CallID == uuid.Nil {
			return errBadRequest
		}
		return f.calls.RelayIceCandidate(body.CallID, conn.ID, body.Candidate)

	case CommandCallHangup:
		var body callHangupBody
		if err := json.Unmarshal(cmd.Body, &body); err != nil || body.CallID == uuid.Nil {
			return errBadRequest
		}
		return f.calls.End(body.CallID, conn.ID, body.Reason)

	default:
		return errUnknownCommand
	}
}

// Shutdown 進行中の状態をベストエフォートで解決し、バックグラウンド処理を停止します
func (f *Facade) Shutdown(_ context.Context) error {
	f.typing.Close()
	f.calls.Shutdown()
	return nil
}

func (f *Facade) sendError(connID, code, message string) {
	_ = f.sender.Send(connID, transport.EventError, ErrorPayload{Code: code, Message: message})
}

var (
	errBadRequest     = errors.New("bad request")
	errUnknownCommand = errors.New("unknown command")
)

// errorCode 内部エラーをクライアント応答コードに変換する
func errorCode(err error) string {
	switch {
	case errors.Is(err, errBadRequest):
		return ErrCodeBadRequest
	case errors.Is(err, errUnknownCommand):
		return ErrCodeUnknownCommand
	case errors.Is(err, call.ErrCallNotFound):
		return ErrCodeCallNotFound
	case errors.Is(err, call.ErrInvalidCallState):
		return ErrCodeInvalidCallState
	case errors.Is(err, call.ErrConnectionNotFound), errors.Is(err, room.ErrConnectionNotFound):
		return ErrCodeNotConnected
	default:
		return ErrCodeInternal
	}
}
