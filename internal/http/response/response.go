// Package response содержит единый формат JSON-ответов страниц DevManager:
// успех, ошибка, ошибка валидации, ожидание загрузки сессии и перенаправление guard.
package response

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/devmanager/internal/storage"
)

// Response стандартный JSON-ответ.
// Status принимает значения OK, Error, Pending или Redirect.
type Response struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Location string `json:"location,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// ErrorResponse структура ошибки для Swagger-документации.
type ErrorResponse struct {
	Status string `json:"status" example:"Error"`
	Error  string `json:"error" example:"invalid request body"`
}

const (
	// StatusOK успешный ответ
	StatusOK = "OK"
	// StatusError ответ с ошибкой
	StatusError = "Error"
	// StatusPending сессия ещё загружается, запрос нужно повторить
	StatusPending = "Pending"
	// StatusRedirect guard перенаправил запрос
	StatusRedirect = "Redirect"
)

// OK успешный ответ без данных.
func OK() Response {
	return Response{Status: StatusOK}
}

// StatusOKWithData успешный ответ с данными.
func StatusOKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// Error ответ с текстом ошибки.
func Error(msg string) Response {
	return Response{
		Status: StatusError,
		Error:  msg,
	}
}

// ErrorKind ответ с классом ошибки, по которому клиент выбирает сообщение.
func ErrorKind(kind, msg string) Response {
	return Response{
		Status: StatusError,
		Kind:   kind,
		Error:  msg,
	}
}

// Pending ответ, пока профиль пользователя не загружен.
func Pending() Response {
	return Response{Status: StatusPending}
}

// Redirect ответ guard с адресом перенаправления.
func Redirect(location, reason string) Response {
	return Response{
		Status:   StatusRedirect,
		Location: location,
		Kind:     reason,
	}
}

// ValidationError собирает нарушения валидации в одну строку через запятую.
func ValidationError(errs validator.ValidationErrors) Response {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "email":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be a valid email", err.Field()))
		case "min":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at least %s characters", err.Field(), err.Param()))
		case "max":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at most %s characters", err.Field(), err.Param()))
		case "numeric":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only numbers", err.Field()))
		case "uuid":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only uuid", err.Field()))
		case "eqfield":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must match %s", err.Field(), err.Param()))
		case "oneof":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be one of: %s", err.Field(), err.Param()))
		case "gt", "gte":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be greater than %s", err.Field(), err.Param()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not a valid", err.Field()))
		}
	}
	return Response{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
	}
}

// FromError отвечает по ошибке сервиса: 422 для валидации, 404 и 409 для ошибок
// хранилища, иначе 500 с текстом fallback.
func FromError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, ValidationError(verrs))
	case errors.Is(err, storage.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, Error("not found"))
	case errors.Is(err, storage.ErrAlreadyExists):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, Error("already exists"))
	default:
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, Error(fallback))
	}
}
