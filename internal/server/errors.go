package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/vetclinic/internal/authorization"
	invoicedomain "github.com/smallbiznis/vetclinic/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/vetclinic/internal/payment/domain"
	paymentmethoddomain "github.com/smallbiznis/vetclinic/internal/paymentmethod/domain"
	"github.com/smallbiznis/vetclinic/internal/ratelimit"
	"github.com/smallbiznis/vetclinic/internal/requestctx"
	tenantdomain "github.com/smallbiznis/vetclinic/internal/tenant/domain"
	"github.com/smallbiznis/vetclinic/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

// validationMessages holds the user facing text for every 400 the API emits.
var validationMessages = map[error]struct {
	field   string
	message string
}{
	ErrInvalidRequest:                       {"request", "La solicitud no es válida."},
	invoicedomain.ErrInvalidID:              {"invoice_id", "El identificador de la factura no es válido."},
	paymentdomain.ErrInvalidInvoiceID:       {"invoice_id", "El identificador de la factura no es válido."},
	paymentdomain.ErrInvalidPaymentMethodID: {"payment_method_id", "El identificador del método de pago no es válido."},
	paymentdomain.ErrPaymentMethodRequired:  {"payment_method_id", "No hay un método de pago activo para esta clínica."},
	paymentdomain.ErrInvalidAmount:          {"amount", "El monto de la factura no es válido."},
	paymentmethoddomain.ErrNotChargeable:    {"payment_method_id", "El método de pago está inactivo o no puede cobrarse."},
	pagination.ErrInvalidPageToken:          {"page_token", "El token de página no es válido."},
	paymentdomain.ErrInvalidSignature:       {"signature", "Firma del webhook inválida."},
}

var conflictMessages = map[error]string{
	invoicedomain.ErrAlreadyPaid:    "La factura ya fue pagada.",
	invoicedomain.ErrAlreadyVoid:    "La factura está anulada.",
	invoicedomain.ErrNotPaid:        "La factura todavía no fue pagada.",
	invoicedomain.ErrStatusConflict: "El estado de la factura no permite esta operación.",
	tenantdomain.ErrSlugTaken:       "El identificador de la clínica ya está en uso.",
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "Error interno del servidor.",
		}
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "Error de validación.",
			Errors:  vErr.Errors,
		}
	}

	for target, v := range validationMessages {
		if errors.Is(err, target) {
			return http.StatusBadRequest, errorPayload{
				Type:    "validation_error",
				Message: v.message,
				Errors: []ValidationError{
					{Field: v.field, Code: target.Error(), Message: v.message},
				},
			}
		}
	}

	for target, message := range conflictMessages {
		if errors.Is(err, target) {
			return http.StatusConflict, errorPayload{
				Type:    "conflict",
				Message: message,
			}
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, requestctx.ErrUnauthenticated),
		errors.Is(err, requestctx.ErrInvalidRole):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "Se requiere autenticación.",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, paymentmethoddomain.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "No tiene permiso para realizar esta operación.",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "Recurso no encontrado.",
		}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "Demasiados intentos de pago. Intente nuevamente en unos minutos.",
		}
	case errors.Is(err, paymentdomain.ErrPaymentFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "payment_failed",
			Message: "No se pudo procesar el pago. Intente nuevamente o use otro método de pago.",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "Error interno del servidor.",
		}
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, invoicedomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrTransactionNotFound),
		errors.Is(err, paymentmethoddomain.ErrNotFound),
		errors.Is(err, tenantdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// classifyErrorForLog returns the error type and code recorded on request logs.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		return payload.Type, "internal_error"
	}
	return payload.Type, err.Error()
}
