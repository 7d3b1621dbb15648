package shared

// NoticeKind classifies a user-visible notification.
type NoticeKind string

const (
	NoticeInfo    NoticeKind = "info"
	NoticeSuccess NoticeKind = "success"
	NoticeWarning NoticeKind = "warning"
	NoticeError   NoticeKind = "error"
)

// Notice represents a one-time notification shown to the operator.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// Common notices emitted by the session model.
var (
	NoticeSessionExpired = Notice{Kind: NoticeWarning, Message: "Su sesión ha expirado, ingrese nuevamente"}
	NoticeLoggedOut      = Notice{Kind: NoticeInfo, Message: "Sesión cerrada"}
	NoticeChooseRole     = Notice{Kind: NoticeInfo, Message: "Seleccione un rol para continuar"}
	NoticeWelcome        = Notice{Kind: NoticeSuccess, Message: "Bienvenido"}
)
