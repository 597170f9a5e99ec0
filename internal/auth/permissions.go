package auth

const (
	ModuleUsers        = "Users"
	ModuleRoles        = "Roles"
	ModuleActivityLogs = "Activity Logs"
	ModuleSettings     = "Settings"
)

const (
	ActionCreate = "CREATE"
	ActionRead   = "READ"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

var (
	builtinModules = []string{ModuleUsers, ModuleRoles, ModuleActivityLogs, ModuleSettings}
	builtinActions = []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete}
)

// BuiltinPermissions returns every module x action pair the service knows about.
// IDs are left empty; stores assign them on insert.
func BuiltinPermissions() []Permission {
	perms := make([]Permission, 0, len(builtinModules)*len(builtinActions))
	for _, m := range builtinModules {
		for _, a := range builtinActions {
			perms = append(perms, Permission{Module: m, Action: a})
		}
	}
	return perms
}

// ValidAction reports whether action is one of the CRUD verbs.
func ValidAction(action string) bool {
	for _, a := range builtinActions {
		if a == action {
			return true
		}
	}
	return false
}
