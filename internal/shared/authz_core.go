package shared

// Role names issued by the backend.
const (
	RoleAdmin      = "ADMIN"
	RoleVentas     = "VENTAS"
	RoleVoluntario = "VOLUNTARIO"
	RoleInventario = "INVENTARIO"
)

// Console landing destinations.
const (
	PathWelcome      = "/welcome"
	PathSelectRole   = "/session/role"
	PathUnauthorized = "/unauthorized"
	PathHome         = "/"
)

// AdminRoles lists the roles allowed on role and menu administration screens.
func AdminRoles() []string {
	return []string{RoleAdmin}
}
