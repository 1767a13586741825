package transport

// サーバー→クライアントイベントタイプ
const (
	// EventMessage ルームへのメッセージ
	EventMessage = "MESSAGE"
	// EventUserJoined ルームへの参加通知
	EventUserJoined = "USER_JOINED"
	// EventUserLeft ルームからの退出通知
	EventUserLeft = "USER_LEFT"
	// EventUserTyping 入力中通知
	EventUserTyping = "USER_TYPING"
	// EventUserTypingStopped 入力終了通知
	EventUserTypingStopped = "USER_TYPING_STOPPED"
	// EventCallOffer 通話オファー
	EventCallOffer = "CALL_OFFER"
	// EventCallRinging 通話呼び出し中通知
	EventCallRinging = "CALL_RINGING"
	// EventCallAnswer 通話アンサー
	EventCallAnswer = "CALL_ANSWER"
	// EventCallRejected 通話拒否通知
	EventCallRejected = "CALL_REJECTED"
	// EventCallMissed 不在着信通知
	EventCallMissed = "CALL_MISSED"
	// EventCallEnded 通話終了通知
	EventCallEnded = "CALL_ENDED"
	// EventIceCandidate ICE候補
	EventIceCandidate = "ICE_CANDIDATE"
	// EventError エラー通知
	EventError = "ERROR"
)

// Sender コネクションへのイベント送信プリミティブ
//
// 送信はベストエフォートであり、切断中のコネクションへの送信は失敗として扱われるが
// 呼び出し側の状態遷移を妨げてはならない。
type Sender interface {
	// Send 指定したコネクションにイベントを送信します
	Send(connID string, event string, payload interface{}) error
}
