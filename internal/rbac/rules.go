package rbac

// Permissions gated on LTI context roles.
const (
	PermSessionView   = "session:view"
	PermRosterSync    = "roster:sync"
	PermLineItemsSync = "lineitems:sync"
	PermDeepLink      = "deeplink:respond"
)

// RolePermissions maps the short context role name (the URI fragment,
// e.g. "Instructor") to the permissions it grants.
var RolePermissions = map[string][]string{
	"Administrator": {
		"*", // everything
	},
	"Instructor": {
		PermSessionView,
		PermRosterSync,
		PermLineItemsSync,
		PermDeepLink,
	},
	"ContentDeveloper": {
		PermSessionView,
		PermDeepLink,
	},
	"Learner": {
		PermSessionView,
	},
	"Mentor": {
		PermSessionView,
	},
}
