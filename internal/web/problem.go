package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Problem is the JSON body written for client errors.
type Problem struct {
	Title     string            `json:"title"`
	Status    int               `json:"status"`
	RequestID string            `json:"requestId"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// AbortWithProblem writes a problem body and stops the handler chain.
func AbortWithProblem(contextGin *gin.Context, status int, title string, fieldErrors map[string]string) {
	contextGin.AbortWithStatusJSON(status, Problem{
		Title:     title,
		Status:    status,
		RequestID: RequestID(contextGin),
		Errors:    fieldErrors,
	})
}

// AbortWithBindingProblem answers 400 for a request body that failed to bind.
func AbortWithBindingProblem(contextGin *gin.Context, bindErr error) {
	AbortWithProblem(contextGin, http.StatusBadRequest, "One or more validation errors occurred.", BindingErrors(bindErr))
}

// BindingErrors flattens a gin binding error into a field -> description map.
func BindingErrors(bindErr error) map[string]string {
	fieldErrors := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if errors.As(bindErr, &validationErrors) {
		for _, fieldError := range validationErrors {
			field := lowerFirst(fieldError.Field())
			fieldErrors[field] = describeFieldError(field, fieldError)
		}
		return fieldErrors
	}

	var typeError *json.UnmarshalTypeError
	if errors.As(bindErr, &typeError) && typeError.Field != "" {
		fieldErrors[typeError.Field] = fmt.Sprintf("%s must be a %s", typeError.Field, typeError.Type.String())
		return fieldErrors
	}

	fieldErrors["body"] = "request body must be a valid JSON object"
	return fieldErrors
}

func describeFieldError(field string, fieldError validator.FieldError) string {
	switch fieldError.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fieldError.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fieldError.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fieldError.Tag())
	}
}

func lowerFirst(value string) string {
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToLower(runes[0])
	return strings.TrimSpace(string(runes))
}
