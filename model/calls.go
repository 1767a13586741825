package model

import (
	"time"

	"github.com/gofrs/uuid"
)

// CallStatus 通話状態
type CallStatus string

const (
	// CallStatusCalling 発信中 (オファー中継済み・着信側未応答)
	CallStatusCalling CallStatus = "calling"
	// CallStatusRinging 呼び出し中 (着信側クライアントがオファー受信を確認済み)
	CallStatusRinging CallStatus = "ringing"
	// CallStatusAccepted 通話中
	CallStatusAccepted CallStatus = "accepted"
	// CallStatusRejected 拒否 (終了状態)
	CallStatusRejected CallStatus = "rejected"
	// CallStatusMissed 不在着信 (終了状態)
	CallStatusMissed CallStatus = "missed"
	// CallStatusEnded 通話終了 (終了状態)
	CallStatusEnded CallStatus = "ended"
)

// String string表記にします
func (s CallStatus) String() string {
	return string(s)
}

// Terminal 終了状態かどうか
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusRejected, CallStatusMissed, CallStatusEnded:
		return true
	default:
		return false
	}
}

// CanTransition sへの遷移が状態機械上許可されているかどうか
func (s CallStatus) CanTransition(next CallStatus) bool {
	switch s {
	case CallStatusCalling:
		switch next {
		case CallStatusRinging, CallStatusAccepted, CallStatusRejected, CallStatusMissed:
			return true
		}
	case CallStatusRinging:
		switch next {
		case CallStatusAccepted, CallStatusRejected, CallStatusMissed:
			return true
		}
	case CallStatusAccepted:
		return next == CallStatusEnded
	}
	// 終了状態からの遷移は常に不許可
	return false
}

// CallType 通話種別
type CallType string

const (
	// CallTypeVideo ビデオ通話
	CallTypeVideo CallType = "video"
	// CallTypeAudio 音声通話
	CallTypeAudio CallType = "audio"
)

// Call 通話の構造体
type Call struct {
	ID         uuid.UUID     `gorm:"type:char(36);not null;primaryKey" json:"id"`
	CallerID   uuid.UUID     `gorm:"type:char(36);not null;index"      json:"callerId"`
	ReceiverID uuid.UUID     `gorm:"type:char(36);not null;index"      json:"receiverId"`
	ChannelID  *uuid.UUID    `gorm:"type:char(36)"                     json:"channelId"`
	Type       CallType      `gorm:"type:varchar(10);not null"         json:"type"`
	Status     CallStatus    `gorm:"type:varchar(10);not null;index"   json:"status"`
	StartTime  time.Time     `gorm:"precision:6"                       json:"startTime"`
	EndTime    *time.Time    `gorm:"precision:6"                       json:"endTime"`
	// Duration 通話時間(秒) 終了状態になったときのみ設定される
	Duration *int `json:"duration"`
}

// TableName Call構造体のテーブル名
func (*Call) TableName() string {
	return "calls"
}
