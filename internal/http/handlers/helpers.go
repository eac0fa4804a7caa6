package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"globlept.co.uk/app/internal/http/middleware"
	"globlept.co.uk/app/internal/http/validation"
	"globlept.co.uk/app/internal/shared/apperr"
	"globlept.co.uk/app/internal/shared/authz"
)

const defaultPageSize = 20

// pathID parses a positive numeric :id, failing the request otherwise.
func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		middleware.Fail(c, apperr.NotFoundErr("Not found."))
		return 0, false
	}
	return id, true
}

func actorOf(c *gin.Context) authz.Actor {
	a, _ := middleware.CurrentActor(c)
	return a
}

// bindJSON binds and validates the body, failing the request with field
// errors when it does not fit dst.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Some fields are invalid.", validation.FromBindError(err, dst)))
		return false
	}
	return true
}

func fail(c *gin.Context, err error) {
	middleware.Fail(c, toAppErr(err))
}

func parseInt(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}
