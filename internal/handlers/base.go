package handlers

import (
	"net/http"

	apperrors "github.com/Chandreshkhunt31/recording-to-insights/pkg/errors"

	"github.com/gin-gonic/gin"
)

// respondError maps an AppError to its status with a {detail} body; any
// other error becomes a 500 with its raw message.
func respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		c.JSON(appErr.Status, apperrors.ErrorResponse{
			Detail: appErr.Message,
			Code:   appErr.Code,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, apperrors.ErrorResponse{
		Detail: err.Error(),
		Code:   apperrors.ErrInternalServer.Code,
	})
}

func respondDetail(c *gin.Context, status int, detail string) {
	c.JSON(status, apperrors.ErrorResponse{Detail: detail})
}
