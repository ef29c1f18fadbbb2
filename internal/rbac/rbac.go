package rbac

type Role string
type Action string

const (
	RoleTrader Role = "trader"
	RoleStaff  Role = "staff"
	RoleAdmin  Role = "admin"
)

const (
	ActionView     Action = "view"
	ActionTrade    Action = "trade"
	ActionClaim    Action = "claim"
	ActionClose    Action = "close"
	ActionDelete   Action = "delete"
	ActionOverride Action = "override"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleStaff:
		return action == ActionView || action == ActionTrade || action == ActionClaim || action == ActionClose || action == ActionDelete
	case RoleTrader:
		return action == ActionView || action == ActionTrade
	default:
		return false
	}
}

// IsStaff reports whether the role carries the mediator privileges the
// ticket lifecycle gates on.
func IsStaff(role Role) bool {
	return role == RoleStaff || role == RoleAdmin
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleTrader, RoleStaff, RoleAdmin:
		return Role(role)
	default:
		return RoleTrader
	}
}
