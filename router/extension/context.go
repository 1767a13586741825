package extension

import (
	"github.com/labstack/echo/v4"
)

// GetRequestID リクエストIDを返します
func GetRequestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
