// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/caridad-org/console/internal/shared"
)

// Sentinel errors for handler input.
var (
	ErrValidation = errors.New("validation failed")
)

// userMessenger is implemented by errors carrying text meant for the operator.
type userMessenger interface {
	UserMessage() string
}

// RespondError maps console errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrAuthentication):
		notice := shared.Notice{Kind: shared.NoticeError, Message: "Usuario o contraseña inválidos"}
		WriteProblem(w, ProblemDetail{Title: "Authentication Failed", Status: http.StatusUnauthorized, Detail: err.Error(), Notice: &notice})
	case shared.IsAuthorization(err):
		notice := shared.NoticeSessionExpired
		WriteProblem(w, ProblemDetail{Title: "Session Expired", Status: http.StatusUnauthorized, Detail: err.Error(), Redirect: shared.PathWelcome, Notice: &notice})
	case errors.Is(err, shared.ErrNotLoggedIn):
		WriteProblem(w, ProblemDetail{Title: "Unauthorized", Status: http.StatusUnauthorized, Detail: err.Error(), Redirect: shared.PathWelcome})
	case errors.Is(err, shared.ErrInvalidRoleSelection):
		Problem(w, http.StatusForbidden, "Invalid Role Selection", err.Error())
	case errors.Is(err, shared.ErrStaleResult):
		Problem(w, http.StatusConflict, "Stale Session", err.Error())
	case shared.IsNetwork(err):
		notice := shared.Notice{Kind: shared.NoticeError, Message: "No hay conexión con el servidor, intente nuevamente"}
		WriteProblem(w, ProblemDetail{Title: "Backend Unavailable", Status: http.StatusBadGateway, Detail: err.Error(), Notice: &notice})
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrUpstream):
		notice := shared.Notice{Kind: shared.NoticeError, Message: "El servidor respondió de forma inesperada, intente nuevamente"}
		var messenger userMessenger
		if errors.As(err, &messenger) && messenger.UserMessage() != "" {
			notice.Message = messenger.UserMessage()
		}
		WriteProblem(w, ProblemDetail{Title: "Backend Error", Status: http.StatusBadGateway, Detail: err.Error(), Notice: &notice})
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
