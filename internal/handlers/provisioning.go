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

type ProvisioningHandler struct {
	svc *services.ProvisioningService
}

func NewProvisioningHandler(svc *services.ProvisioningService) (*ProvisioningHandler, error) {
	if svc == nil {
		return nil, errors.New("provisioning handler: service is required")
	}
	return &ProvisioningHandler{svc: svc}, nil
}

type provisionAddress struct {
	Street     string `json:"street" validate:"omitempty,max=256"`
	City       string `json:"city" validate:"omitempty,max=128"`
	PostalCode string `json:"postal_code" validate:"omitempty,max=32"`
	Country    string `json:"country" validate:"omitempty,len=2"`
}

type provisionCompany struct {
	Name           string            `json:"name" validate:"required,min=2,max=128"`
	Email          string            `json:"email" validate:"required,email,max=254"`
	Phone          string            `json:"phone" validate:"omitempty,max=32"`
	TaxID          string            `json:"tax_id" validate:"required,tax_id"`
	TaxCountryCode string            `json:"tax_country_code" validate:"required,len=2"`
	Address        *provisionAddress `json:"address"`
}

type provisionRequest struct {
	AttemptID string           `json:"attempt_id" validate:"required,uuid4"`
	Company   provisionCompany `json:"company" validate:"required"`
}

// POST /api/v1/provision
// The authenticated subject becomes the owner; the payload never names the
// admin user, so a token for one identity cannot provision on behalf of
// another.
func (h *ProvisioningHandler) Provision(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var body provisionRequest
	if !bindAndValidate(c, &body) {
		return
	}

	input := services.ProvisionInput{
		AttemptID:      body.AttemptID,
		AdminUserID:    userID,
		Name:           body.Company.Name,
		Email:          body.Company.Email,
		Phone:          body.Company.Phone,
		TaxID:          body.Company.TaxID,
		TaxCountryCode: body.Company.TaxCountryCode,
		CorrelationID:  middleware.CorrelationID(c),
		IPAddress:      c.ClientIP(),
	}
	if body.Company.Address != nil {
		input.Address = &services.CompanyAddress{
			Street:     body.Company.Address.Street,
			City:       body.Company.Address.City,
			PostalCode: body.Company.Address.PostalCode,
			Country:    body.Company.Address.Country,
		}
	}

	output, err := h.svc.Provision(requestContext(c), input)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, output)
}
