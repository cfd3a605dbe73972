package v1

import (
	"github.com/gin-gonic/gin"

	"wesgateway/internal/apierr"
)

// respondError writes the error taxonomy's {msg, status_code} body (§9
// "error response shape"), mirroring pro_wes.exceptions' JSON error bodies.
func respondError(c *gin.Context, err error) {
	status := apierr.HTTPStatus(err)
	c.JSON(status, gin.H{"msg": err.Error(), "status_code": status})
	c.Abort()
}
