package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/glotta/registrar/internal/middleware"
	"github.com/glotta/registrar/internal/services"
	appErrors "github.com/glotta/registrar/pkg/errors"
	"github.com/glotta/registrar/pkg/response"
)

type OrphanHandler struct {
	svc *services.OrphanService
}

func NewOrphanHandler(svc *services.OrphanService) (*OrphanHandler, error) {
	if svc == nil {
		return nil, errors.New("orphan handler: service is required")
	}
	return &OrphanHandler{svc: svc}, nil
}

// GET /api/v1/orphan-status
// Runs the detector for the authenticated subject; called by clients right
// after sign-in. The detector fails open, so this route never blocks login.
func (h *OrphanHandler) Status(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	report, err := h.svc.Check(requestContext(c), userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, http.StatusOK, report)
}
