package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"globlept.co.uk/app/internal/database"
	"globlept.co.uk/app/internal/http/middleware"
	"globlept.co.uk/app/internal/shared/apperr"
)

type HealthHandler struct {
	DB *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{DB: db}
}

func (h *HealthHandler) Check(c *gin.Context) {
	if err := database.Ping(c.Request.Context(), h.DB); err != nil {
		middleware.Fail(c, apperr.PersistenceErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
