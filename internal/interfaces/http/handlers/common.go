package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/internal/interfaces/http/middleware"
	"github.com/turtacn/LexNER/pkg/errors"
	"github.com/turtacn/LexNER/pkg/types/common"
)

const (
	defaultPageSize = 20
	maxPageSize     = common.MaxPageSize
)

// parsePagination reads page and page_size, ignoring values that are not
// positive integers or exceed maxPageSize.
func parsePagination(c *gin.Context) (int, int) {
	page := 1
	pageSize := defaultPageSize
	if v := c.Query("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := c.Query("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 && ps <= maxPageSize {
			pageSize = ps
		}
	}
	return page, pageSize
}

func writeData[T any](c *gin.Context, status int, data T) {
	resp := common.NewSuccessResponse(data)
	resp.RequestID = middleware.GetRequestID(c)
	c.JSON(status, resp)
}

func writePaginated[T any](c *gin.Context, data T, page, pageSize int, total int64) {
	resp := common.NewPaginatedResponse(data, common.Pagination{Page: page, PageSize: pageSize, Total: total})
	resp.RequestID = middleware.GetRequestID(c)
	c.JSON(http.StatusOK, resp)
}

func writeError(c *gin.Context, status int, code errors.ErrorCode, message string) {
	resp := common.NewErrorResponse(code.String(), message)
	resp.RequestID = middleware.GetRequestID(c)
	c.AbortWithStatusJSON(status, resp)
}

// writeAppError maps err to its HTTP status. Server-side errors are logged
// and masked; client errors are echoed.
func writeAppError(c *gin.Context, logger logging.Logger, err error) {
	code := errors.GetCode(err)
	if code == errors.CodeUnknown {
		code = errors.ErrCodeInternal
	}
	status := errors.HTTPStatusForCode(code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			logging.String("path", c.FullPath()),
			logging.String("request_id", middleware.GetRequestID(c)),
			logging.Err(err))
		_ = c.Error(err)
		writeError(c, status, code, errors.DefaultMessageForCode(code))
		return
	}
	msg := err.Error()
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
		if appErr.Detail != "" {
			msg += ": " + appErr.Detail
		}
	}
	writeError(c, status, code, msg)
}
