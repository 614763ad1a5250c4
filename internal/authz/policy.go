// Package authz implements the pure auth policy: the role/permission
// matrix, scope checks, the sliding-window rate limiter, and the HMAC
// bearer token codec. It performs no transport work; the HTTP layer calls
// into it and maps rejections onto status codes.
package authz

import "time"

// Mode selects how strict the daemon is about credentials.
type Mode string

const (
	ModeLocal        Mode = "local"
	ModeLocalNoToken Mode = "local-notoken"
	ModeHybrid       Mode = "hybrid"
	ModeTeam         Mode = "team"
)

// IsValid checks if the mode is one of the known values.
func (m Mode) IsValid() bool {
	switch m {
	case ModeLocal, ModeLocalNoToken, ModeHybrid, ModeTeam:
		return true
	}
	return false
}

// Role is a named permission bundle.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleAgent    Role = "agent"
	RoleReadonly Role = "readonly"
)

// Permission names one operation class a role may perform.
type Permission string

const (
	PermRemember    Permission = "remember"
	PermRecall      Permission = "recall"
	PermModify      Permission = "modify"
	PermForget      Permission = "forget"
	PermRecover     Permission = "recover"
	PermAdmin       Permission = "admin"
	PermDocuments   Permission = "documents"
	PermConnectors  Permission = "connectors"
	PermDiagnostics Permission = "diagnostics"
)

var allPermissions = []Permission{
	PermRemember, PermRecall, PermModify, PermForget, PermRecover,
	PermAdmin, PermDocuments, PermConnectors, PermDiagnostics,
}

// rolePermissions is the fixed role matrix. admin has everything; operator
// everything except admin; agent the memory CRUD set plus documents;
// readonly only recall.
var rolePermissions = map[Role]map[Permission]bool{
	RoleAdmin:    permSet(allPermissions...),
	RoleOperator: permSet(PermRemember, PermRecall, PermModify, PermForget, PermRecover, PermDocuments, PermConnectors, PermDiagnostics),
	RoleAgent:    permSet(PermRemember, PermRecall, PermModify, PermForget, PermRecover, PermDocuments),
	RoleReadonly: permSet(PermRecall),
}

func permSet(perms ...Permission) map[Permission]bool {
	set := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		set[p] = true
	}
	return set
}

// Claims is the verified content of a bearer token.
type Claims struct {
	Subject   string    `json:"sub"`
	Role      Role      `json:"role"`
	Project   string    `json:"project,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	User      string    `json:"user,omitempty"`
	ExpiresAt time.Time `json:"exp"`
}

// Scope is the (project, agent, user) triple a request targets. Empty
// fields mean "any".
type Scope struct {
	Project string
	Agent   string
	User    string
}

// CheckPermission decides whether claims may perform perm under mode.
// Local modes allow everything; otherwise claims are required and the
// role matrix decides.
func CheckPermission(claims *Claims, perm Permission, mode Mode) bool {
	if mode == ModeLocal || mode == ModeLocalNoToken {
		return true
	}
	if claims == nil {
		return false
	}
	set, ok := rolePermissions[claims.Role]
	if !ok {
		return false
	}
	return set[perm]
}

// CheckScope decides whether claims may touch target under mode. Local
// mode allows everything; admin bypasses; an empty claim scope grants full
// access; otherwise every claim dimension that is set must match the
// corresponding target dimension when the target sets it too.
func CheckScope(claims *Claims, target Scope, mode Mode) bool {
	if mode == ModeLocal {
		return true
	}
	if claims == nil {
		return false
	}
	if claims.Role == RoleAdmin {
		return true
	}
	if claims.Project == "" && claims.Agent == "" && claims.User == "" {
		return true
	}
	if claims.Project != "" && target.Project != "" && claims.Project != target.Project {
		return false
	}
	if claims.Agent != "" && target.Agent != "" && claims.Agent != target.Agent {
		return false
	}
	if claims.User != "" && target.User != "" && claims.User != target.User {
		return false
	}
	return true
}
