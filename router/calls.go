package router

import (
	"net/http"
	"time"

	vd "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/gofrs/uuid"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"github.com/traPtitech/calQ/model"
	"github.com/traPtitech/calQ/repository"
	"github.com/traPtitech/calQ/router/extension/herror"
	"github.com/traPtitech/calQ/router/middlewares"
)

// CallResponse 通話レコードのレスポンス
type CallResponse struct {
	ID         uuid.UUID        `json:"id"`
	CallerID   uuid.UUID        `json:"callerId"`
	ReceiverID uuid.UUID        `json:"receiverId"`
	ChannelID  *uuid.UUID       `json:"channelId"`
	Type       model.CallType   `json:"type"`
	Status     model.CallStatus `json:"status"`
	StartTime  time.Time        `json:"startTime"`
	EndTime    *time.Time       `json:"endTime"`
	Duration   *int             `json:"duration"`
}

func formatCall(c *model.Call) CallResponse {
	return CallResponse{
		ID:         c.ID,
		CallerID:   c.CallerID,
		ReceiverID: c.ReceiverID,
		ChannelID:  c.ChannelID,
		Type:       c.Type,
		Status:     c.Status,
		StartTime:  c.StartTime,
		EndTime:    c.EndTime,
		Duration:   c.Duration,
	}
}

// GetCallsRequest GET /calls リクエストクエリ
type GetCallsRequest struct {
	UserID string `query:"userId"`
	Since  string `query:"since"`
	Limit  int    `query:"limit"`
	Offset int    `query:"offset"`
}

func (r GetCallsRequest) Validate() error {
	return vd.ValidateStruct(&r,
		vd.Field(&r.UserID, is.UUID),
		vd.Field(&r.Limit, vd.Min(0), vd.Max(200)),
		vd.Field(&r.Offset, vd.Min(0)),
	)
}

// GetCalls GET /calls
func (h *Handlers) GetCalls(c echo.Context) error {
	var req GetCallsRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	q := repository.CallsQuery{
		Limit:  req.Limit,
		Offset: req.Offset,
	}
	if q.Limit == 0 {
		q.Limit = 50
	}
	// userId未指定時はリクエストユーザー自身の履歴
	q.UserID = uuid.NullUUID{UUID: getRequestUserID(c), Valid: true}
	if len(req.UserID) > 0 {
		q.UserID = uuid.NullUUID{UUID: uuid.FromStringOrNil(req.UserID), Valid: true}
	}
	if len(req.Since) > 0 {
		since, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			return herror.BadRequest("invalid since")
		}
		q.Since = &since
	}

	calls, err := h.Repo.GetCalls(q)
	if err != nil {
		return herror.InternalServerError(err)
	}
	return c.JSON(http.StatusOK, lo.Map(calls, func(c *model.Call, _ int) CallResponse {
		return formatCall(c)
	}))
}

// GetActiveCalls GET /calls/active
func (h *Handlers) GetActiveCalls(c echo.Context) error {
	return c.JSON(http.StatusOK, lo.Map(h.Calls.ActiveCalls(), func(c *model.Call, _ int) CallResponse {
		return formatCall(c)
	}))
}

// GetCallStatsRequest GET /calls/stats リクエストクエリ
type GetCallStatsRequest struct {
	UserID string `query:"userId"`
}

func (r GetCallStatsRequest) Validate() error {
	return vd.ValidateStruct(&r,
		vd.Field(&r.UserID, is.UUID),
	)
}

// GetCallStats GET /calls/stats
func (h *Handlers) GetCallStats(c echo.Context) error {
	var req GetCallStatsRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	var userID uuid.NullUUID
	if len(req.UserID) > 0 {
		userID = uuid.NullUUID{UUID: uuid.FromStringOrNil(req.UserID), Valid: true}
	}

	stats, err := h.Calls.GetStats(userID)
	if err != nil {
		return herror.InternalServerError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// PostCallsCleanupRequest POST /calls/cleanup リクエストボディ
type PostCallsCleanupRequest struct {
	MaxAgeMinutes int `json:"maxAgeMinutes"`
}

func (r PostCallsCleanupRequest) Validate() error {
	return vd.ValidateStruct(&r,
		vd.Field(&r.MaxAgeMinutes, vd.Required, vd.Min(1), vd.Max(7*24*60)),
	)
}

// PostCallsCleanup POST /calls/cleanup
//
// 管理用。滞留した未応答通話を一括で不在着信に解決します。
func (h *Handlers) PostCallsCleanup(c echo.Context) error {
	if len(h.Config.AdminToken) == 0 || c.Request().Header.Get(middlewares.HeaderAdminToken) != h.Config.AdminToken {
		return herror.Forbidden()
	}

	var req PostCallsCleanupRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	resolved := h.Calls.SweepExpired(time.Duration(req.MaxAgeMinutes) * time.Minute)
	return c.JSON(http.StatusOK, echo.Map{"resolved": resolved})
}
