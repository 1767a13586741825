package repository

import (
	"time"

	"github.com/gofrs/uuid"

	"github.com/traPtitech/calQ/model"
)

// CallStats 通話の統計情報
type CallStats struct {
	// Counts 状態ごとの通話数
	Counts map[model.CallStatus]int64 `json:"counts"`
	// TotalDuration 終了した通話の合計通話時間(秒)
	TotalDuration int64 `json:"totalDuration"`
	// AverageDuration 終了した通話の平均通話時間(秒)
	AverageDuration float64 `json:"averageDuration"`
}

// CallsQuery 通話履歴取得用クエリ
type CallsQuery struct {
	// UserID 指定した場合、このユーザーが発信者または着信者である通話に限定する
	UserID uuid.NullUUID
	// Since 指定した場合、この時刻以降に開始した通話に限定する
	Since *time.Time
	Limit int
	Offset int
}

// CallRepository 通話リポジトリ
type CallRepository interface {
	// CreateCall 通話レコードを作成します
	//
	// 成功した場合、nilを返します。
	// 既に同じIDのレコードが存在する場合、ErrAlreadyExistsを返します。
	// DBによるエラーを返すことがあります。
	CreateCall(call *model.Call) error
	// UpdateCall 指定した通話レコードを更新します
	//
	// 成功した場合、nilを返します。
	// 存在しない通話の場合、ErrNotFoundを返します。
	// 引数にuuid.Nilを指定した場合、ErrNilIDを返します。
	// DBによるエラーを返すことがあります。
	UpdateCall(callID uuid.UUID, changes map[string]interface{}) error
	// GetCall 指定した通話レコードを取得します
	//
	// 存在しない通話の場合、ErrNotFoundを返します。
	GetCall(callID uuid.UUID) (*model.Call, error)
	// GetCalls 条件に一致する通話レコードを開始時刻の降順で取得します
	GetCalls(query CallsQuery) ([]*model.Call, error)
	// GetActiveCalls 終了状態でない通話レコードを全て取得します
	GetActiveCalls() ([]*model.Call, error)
	// GetCallStats 通話の統計情報を取得します
	//
	// userIDが有効な場合、そのユーザーが関与した通話に限定します。
	GetCallStats(userID uuid.NullUUID) (*CallStats, error)
}

// Repository リポジトリ
type Repository interface {
	CallRepository
}
