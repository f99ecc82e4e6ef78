// Package policy holds the static role × resource-type × operation permission
// table. Everything here is a pure lookup.
package policy

import "github.com/org/clipguard/pkg/models"

const (
	denied = models.PermissionDenied
	ro     = models.PermissionReadOnly
	full   = models.PermissionFull
)

// grants builds one resource row in CREATE, READ, UPDATE, DELETE, LIST order.
func grants(create, read, update, del, list models.PermissionLevel) map[models.Operation]models.PermissionLevel {
	return map[models.Operation]models.PermissionLevel{
		models.OpCreate: create,
		models.OpRead:   read,
		models.OpUpdate: update,
		models.OpDelete: del,
		models.OpList:   list,
	}
}

// matrix is the complete permission table. Jobs are only ever updated by the
// transcoding callbacks, so no interactive role except admin may UPDATE them.
var matrix = map[models.Role]map[models.ResourceType]map[models.Operation]models.PermissionLevel{
	models.RoleUser: {
		models.ResourceVideo:        grants(full, full, full, full, full),
		models.ResourceJob:          grants(full, full, denied, full, full),
		models.ResourceSubscription: grants(full, ro, full, denied, ro),
		models.ResourceUsage:        grants(denied, ro, denied, denied, ro),
		models.ResourceSettings:     grants(full, full, full, full, full),
		models.ResourceAuthToken:    grants(full, ro, denied, full, ro),
	},
	models.RoleModerator: {
		models.ResourceVideo:        grants(denied, ro, denied, denied, ro),
		models.ResourceJob:          grants(denied, ro, denied, denied, ro),
		models.ResourceSubscription: grants(denied, denied, denied, denied, denied),
		models.ResourceUsage:        grants(denied, denied, denied, denied, denied),
		models.ResourceSettings:     grants(denied, ro, denied, denied, ro),
		models.ResourceAuthToken:    grants(denied, denied, denied, denied, denied),
	},
	models.RoleAdmin: {
		models.ResourceVideo:        grants(full, full, full, full, full),
		models.ResourceJob:          grants(full, full, full, full, full),
		models.ResourceSubscription: grants(full, full, full, full, full),
		models.ResourceUsage:        grants(full, full, full, full, full),
		models.ResourceSettings:     grants(full, full, full, full, full),
		models.ResourceAuthToken:    grants(full, full, full, full, full),
	},
}

// Level returns the permission level role holds for op on resourceType.
// Any combination missing from the table is DENIED.
func Level(role models.Role, resourceType models.ResourceType, op models.Operation) models.PermissionLevel {
	level, ok := matrix[role][resourceType][op]
	if !ok {
		return denied
	}
	return level
}

// IsAllowed reports whether level permits op.
func IsAllowed(level models.PermissionLevel, op models.Operation) bool {
	switch level {
	case full:
		return true
	case ro:
		return op == models.OpRead || op == models.OpList
	default:
		return false
	}
}

// required is the access level each operation demands per resource type.
// OWNER_ONLY extends the ownership check to non-admin staff roles; plain users
// are always checked against ownership when a resource id is given.
var required = map[models.ResourceType]map[models.Operation]models.AccessLevel{
	models.ResourceVideo: {
		models.OpCreate: models.AccessAuthenticated,
		models.OpRead:   models.AccessAuthenticated,
		models.OpUpdate: models.AccessOwnerOnly,
		models.OpDelete: models.AccessOwnerOnly,
		models.OpList:   models.AccessAuthenticated,
	},
	models.ResourceJob: {
		models.OpCreate: models.AccessAuthenticated,
		models.OpRead:   models.AccessAuthenticated,
		models.OpUpdate: models.AccessAdminOnly,
		models.OpDelete: models.AccessOwnerOnly,
		models.OpList:   models.AccessAuthenticated,
	},
	models.ResourceSubscription: {
		models.OpCreate: models.AccessAuthenticated,
		models.OpRead:   models.AccessOwnerOnly,
		models.OpUpdate: models.AccessOwnerOnly,
		models.OpDelete: models.AccessAdminOnly,
		models.OpList:   models.AccessAuthenticated,
	},
	models.ResourceUsage: {
		models.OpCreate: models.AccessAdminOnly,
		models.OpRead:   models.AccessOwnerOnly,
		models.OpUpdate: models.AccessAdminOnly,
		models.OpDelete: models.AccessAdminOnly,
		models.OpList:   models.AccessAuthenticated,
	},
	models.ResourceSettings: {
		models.OpCreate: models.AccessAuthenticated,
		models.OpRead:   models.AccessAuthenticated,
		models.OpUpdate: models.AccessOwnerOnly,
		models.OpDelete: models.AccessOwnerOnly,
		models.OpList:   models.AccessAuthenticated,
	},
	models.ResourceAuthToken: {
		models.OpCreate: models.AccessAuthenticated,
		models.OpRead:   models.AccessOwnerOnly,
		models.OpUpdate: models.AccessAdminOnly,
		models.OpDelete: models.AccessOwnerOnly,
		models.OpList:   models.AccessAuthenticated,
	},
}

// RequiredAccessLevel returns who may perform op on resourceType at all.
// Unknown combinations require ADMIN_ONLY.
func RequiredAccessLevel(resourceType models.ResourceType, op models.Operation) models.AccessLevel {
	level, ok := required[resourceType][op]
	if !ok {
		return models.AccessAdminOnly
	}
	return level
}

// RequiresOwnership reports whether role must prove ownership of a specific
// resource before op on resourceType is granted.
func RequiresOwnership(role models.Role, resourceType models.ResourceType, op models.Operation) bool {
	if role == models.RoleAdmin {
		return false
	}
	if role == models.RoleUser {
		return true
	}
	return RequiredAccessLevel(resourceType, op) == models.AccessOwnerOnly
}

// Row is one flattened matrix entry.
type Row struct {
	Role         models.Role
	ResourceType models.ResourceType
	Operation    models.Operation
	Level        models.PermissionLevel
	Allowed      bool
	Required     models.AccessLevel
}

// Table flattens the matrix in role, resource type, operation order.
func Table() []Row {
	rows := make([]Row, 0, len(models.Roles)*len(models.ResourceTypes)*len(models.Operations))
	for _, role := range models.Roles {
		for _, rt := range models.ResourceTypes {
			for _, op := range models.Operations {
				level := Level(role, rt, op)
				rows = append(rows, Row{
					Role:         role,
					ResourceType: rt,
					Operation:    op,
					Level:        level,
					Allowed:      IsAllowed(level, op),
					Required:     RequiredAccessLevel(rt, op),
				})
			}
		}
	}
	return rows
}
