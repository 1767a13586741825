package event

const (
	// SessionConnected クライアントがゲートウェイに接続した
	// 	Fields:
	// 		conn_id: string
	// 		user_id: uuid.UUID
	SessionConnected = "session.connected"
	// SessionDisconnected クライアントがゲートウェイから切断した
	// 	Fields:
	// 		conn_id: string
	// 		user_id: uuid.UUID
	SessionDisconnected = "session.disconnected"

	// UserOnline ユーザーがオンラインになった
	// 	Fields:
	// 		user_id: uuid.UUID
	// 		datetime: time.Time
	UserOnline = "user.online"
	// UserOffline ユーザーがオフラインになった
	// 	Fields:
	// 		user_id: uuid.UUID
	// 		datetime: time.Time
	UserOffline = "user.offline"

	// RoomJoined コネクションがルームに参加した
	// 	Fields:
	// 		conn_id: string
	// 		user_id: uuid.UUID
	// 		room_id: uuid.UUID
	// 		members: int
	RoomJoined = "room.joined"
	// RoomLeft コネクションがルームから退出した
	// 	Fields:
	// 		conn_id: string
	// 		user_id: uuid.UUID
	// 		room_id: uuid.UUID
	// 		members: int
	RoomLeft = "room.left"

	// CallStateChanged 通話の状態が変化した
	// 	Fields:
	// 		call_id: uuid.UUID
	// 		caller_id: uuid.UUID
	// 		receiver_id: uuid.UUID
	// 		status: model.CallStatus
	CallStateChanged = "call.state_changed"
)
