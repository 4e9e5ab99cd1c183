// Package approval evaluates the role gate for a proposal. Stages describe
// which roles sign off and which earlier stages they wait on; the service
// asks the gate whether a role may approve given the current approvals.
package approval

const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
)

type Stage struct {
	ID        string
	Mode      string // "parallel" or "sequential"
	Roles     []string
	DependsOn []string
}

// DefaultStages is the review pipeline applied to every proposal: security
// and the architecture committee review independently, legal signs off last.
func DefaultStages() []Stage {
	return []Stage{
		{ID: "technical", Mode: "parallel", Roles: []string{"security", "architectureCommittee"}},
		{ID: "legal", Mode: "sequential", Roles: []string{"legal"}, DependsOn: []string{"technical"}},
	}
}

type Gate struct {
	stages       []Stage
	roleStage    map[string]string
	dependencies map[string][]string
}

// NewGate flattens stage-level dependencies into per-role prerequisite lists.
func NewGate(stages []Stage) *Gate {
	gate := &Gate{
		stages:       stages,
		roleStage:    map[string]string{},
		dependencies: map[string][]string{},
	}
	rolesByStage := map[string][]string{}
	for _, stage := range stages {
		rolesByStage[stage.ID] = stage.Roles
		for _, role := range stage.Roles {
			gate.roleStage[role] = stage.ID
		}
	}
	for _, stage := range stages {
		var prerequisites []string
		for _, dep := range stage.DependsOn {
			prerequisites = append(prerequisites, rolesByStage[dep]...)
		}
		for _, role := range stage.Roles {
			gate.dependencies[role] = prerequisites
		}
	}
	return gate
}

func (g *Gate) Roles() []string {
	var roles []string
	for _, stage := range g.stages {
		roles = append(roles, stage.Roles...)
	}
	return roles
}

func (g *Gate) KnownRole(role string) bool {
	_, ok := g.roleStage[role]
	return ok
}

// Blocked returns the unapproved prerequisite roles that keep the given role
// from approving. Empty means the role may approve now.
func (g *Gate) Blocked(statusByRole map[string]string, role string) []string {
	var blocking []string
	for _, prerequisite := range g.dependencies[role] {
		if statusByRole[prerequisite] != StatusApproved {
			blocking = append(blocking, prerequisite)
		}
	}
	return blocking
}

func (g *Gate) PendingRoles(statusByRole map[string]string) []string {
	var pending []string
	for _, role := range g.Roles() {
		if statusByRole[role] != StatusApproved {
			pending = append(pending, role)
		}
	}
	return pending
}

func (g *Gate) PendingCount(statusByRole map[string]string) int {
	return len(g.PendingRoles(statusByRole))
}

func (g *Gate) AllApproved(statusByRole map[string]string) bool {
	return g.PendingCount(statusByRole) == 0
}
