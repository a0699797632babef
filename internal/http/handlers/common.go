package handlers

import (
	"net/http"
	"strconv"

	"ticketbackend/internal/domain"

	"github.com/gin-gonic/gin"
)

func respondOK(c *gin.Context, status int, message string, data any) {
	body := gin.H{"success": true, "message": message}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

// BindJSONOrError ensures body is present and parsable.
func BindJSONOrError[T any](c *gin.Context, dst *T) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		respondError(c, http.StatusBadRequest, domain.CodeValidation, "request body is empty", nil)
		return false
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, domain.CodeValidation, "invalid payload", err.Error())
		return false
	}
	return true
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, domain.CodeValidation, "invalid "+name, nil)
		return 0, false
	}
	return id, true
}

func pagination(c *gin.Context) domain.Pagination {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	return domain.NewPagination(page, limit)
}

func listBody(items any, p domain.Pagination) gin.H {
	return gin.H{
		"items": items,
		"pagination": gin.H{
			"page":  p.Page,
			"limit": p.Limit,
			"total": p.Total,
		},
	}
}
