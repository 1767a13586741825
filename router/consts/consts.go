package consts

const (
	// KeyUserID リクエストユーザーUUID (uuid.UUID)
	KeyUserID = "userID"
	// KeyUsername リクエストユーザー名 (string)
	KeyUsername = "username"
)
