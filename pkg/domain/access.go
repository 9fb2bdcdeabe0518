package domain

import (
	"context"
	"fmt"
)

// Module groups tables for role-based access.
type Module string

// ERP modules.
const (
	ModuleSales       Module = "sales"
	ModuleBilling     Module = "billing"
	ModuleReceivables Module = "receivables"
	ModuleAdmin       Module = "admin"
	ModuleClub        Module = "club"
)

// Role is the acting principal's role.
type Role string

// Known roles.
const (
	RoleAdmin      Role = "admin"
	RoleSales      Role = "sales"
	RoleAccounting Role = "accounting"
	RoleMember     Role = "member"
)

// Permission is the access level a role holds on a module.
type Permission int

// Permission levels, ordered.
const (
	PermNone Permission = iota
	PermRead
	PermWrite
)

var accessMatrix = map[Role]map[Module]Permission{
	RoleAdmin: {
		ModuleSales: PermWrite, ModuleBilling: PermWrite, ModuleReceivables: PermWrite,
		ModuleAdmin: PermWrite, ModuleClub: PermWrite,
	},
	RoleSales: {
		ModuleSales: PermWrite, ModuleBilling: PermRead, ModuleReceivables: PermRead,
		ModuleAdmin: PermRead, ModuleClub: PermWrite,
	},
	RoleAccounting: {
		ModuleSales: PermRead, ModuleBilling: PermWrite, ModuleReceivables: PermWrite,
		ModuleAdmin: PermRead, ModuleClub: PermWrite,
	},
	RoleMember: {
		ModuleClub: PermWrite,
	},
}

// Access returns the permission role holds on module.
func Access(role Role, module Module) Permission {
	return accessMatrix[role][module]
}

// Actor identifies the principal issuing backend calls.
type Actor struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// SystemActor is used by in-process tooling such as the CLI.
var SystemActor = Actor{Name: "system", Role: RoleAdmin}

type actorKey struct{}

// WithActor attaches the acting principal to ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom extracts the acting principal from ctx.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// Authorize checks that the actor in ctx holds at least want on module. The
// returned message is suitable for the backend error string channel.
func Authorize(ctx context.Context, module Module, want Permission) (string, bool) {
	actor, ok := ActorFrom(ctx)
	if !ok {
		return MsgPermissionDenied + ": no actor", false
	}
	if Access(actor.Role, module) < want {
		return fmt.Sprintf("%s: role %s on %s", MsgPermissionDenied, actor.Role, module), false
	}
	return "", true
}
