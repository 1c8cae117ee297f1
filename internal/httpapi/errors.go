package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/matheusmosca/order-placement-engine/internal/idempotency"
	"github.com/matheusmosca/order-placement-engine/internal/orders"
)

var registerTagNames sync.Once

// useJSONFieldNames makes validation errors report json field names.
func useJSONFieldNames() {
	registerTagNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

// bindError turns a binding failure into a ValidationError.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &orders.ValidationError{Fields: []string{"body: " + err.Error()}}
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s: %s", fieldPath(fe), fieldMessage(fe)))
	}
	return &orders.ValidationError{Fields: fields}
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be a valid id"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must contain at least " + fe.Param() + " item(s)"
		}
		if fe.Kind() == reflect.String {
			return "must be at least " + fe.Param() + " characters"
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, orders.ErrInvalidInput):
		return http.StatusBadRequest, "invalid input"
	case errors.Is(err, orders.ErrInsufficientStock):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, orders.ErrProductNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, orders.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, orders.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, orders.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, orders.ErrConflict):
		return http.StatusConflict, "order could not be placed due to concurrent updates, please retry"
	case errors.Is(err, idempotency.ErrInFlight):
		return http.StatusConflict, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status, message := statusFor(err)
	resp := errorResponse{Success: false, Message: message}

	var verr *orders.ValidationError
	if errors.As(err, &verr) {
		resp.Errors = verr.Fields
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}

	_ = c.Error(err)
	c.JSON(status, resp)
}
