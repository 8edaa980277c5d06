package rbac

type Role string
type Action string

const (
	RoleParishSecretary  Role = "parish_secretary"
	RoleChanceryOffice   Role = "chancery_office"
	RoleMuseumResearcher Role = "museum_researcher"
	RoleAdmin            Role = "admin"
)

const (
	ActionRead         Action = "read"
	ActionEdit         Action = "edit"
	ActionReview       Action = "review"
	ActionMuseumReview Action = "museum_review"
	ActionAdmin        Action = "admin"
)

// Can answers route-level permission checks. The workflow engine does its
// own per-transition role check on top of this.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleParishSecretary:
		return action == ActionRead || action == ActionEdit
	case RoleChanceryOffice:
		return action == ActionRead || action == ActionReview
	case RoleMuseumResearcher:
		return action == ActionRead || action == ActionMuseumReview
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleParishSecretary, RoleChanceryOffice, RoleMuseumResearcher, RoleAdmin:
		return Role(role)
	default:
		return ""
	}
}
