package middlewares

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/labstack/echo/v4"

	"github.com/traPtitech/calQ/router/consts"
	"github.com/traPtitech/calQ/router/extension/ctxkey"
	"github.com/traPtitech/calQ/router/extension/herror"
)

const (
	// HeaderUserID 認証プロキシが付与するユーザーUUIDヘッダー
	HeaderUserID = "X-Calq-User-Id"
	// HeaderUsername 認証プロキシが付与するユーザー名ヘッダー
	HeaderUsername = "X-Calq-User-Name"
	// HeaderAdminToken 管理APIトークンヘッダー
	HeaderAdminToken = "X-Calq-Admin-Token"
)

// UserAuthenticate リクエストユーザー解決ミドルウェア
//
// 認証そのものは前段のプロキシに任せ、ここでは検証済みヘッダーからユーザーを
// 解決するだけを行う。WebSocketハンドラから参照できるよう、リクエストコンテキスト
// にも書き込む。
func UserAuthenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			userID, err := uuid.FromString(req.Header.Get(HeaderUserID))
			if err != nil || userID == uuid.Nil {
				return herror.Unauthorized("invalid user header")
			}
			username := req.Header.Get(HeaderUsername)
			if len(username) == 0 {
				username = userID.String()
			}

			c.Set(consts.KeyUserID, userID)
			c.Set(consts.KeyUsername, username)

			ctx := context.WithValue(req.Context(), ctxkey.UserID, userID)
			ctx = context.WithValue(ctx, ctxkey.Username, username)
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
