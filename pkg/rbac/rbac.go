// Package rbac provides role-based access control checks.
package rbac

import "github.com/NicolasHaas/pixgallery/pkg/model"

// permissionMatrix maps roles to their allowed permissions.
var permissionMatrix = map[model.Role]map[model.Permission]bool{
	model.RoleAdmin: {
		model.PermUploadImage: true,
		model.PermDeleteImage: true,
		model.PermExportData:  true,
	},
	// users may browse, which needs no permission
	model.RoleUser: {},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role model.Role, perm model.Permission) bool {
	perms, ok := permissionMatrix[role]
	if !ok {
		return false
	}
	return perms[perm]
}

// RequirePermission returns an error message if the role lacks the permission, or empty string if allowed.
func RequirePermission(role model.Role, perm model.Permission) string {
	if HasPermission(role, perm) {
		return ""
	}
	return "permission denied: " + permName(perm) + " requires admin role"
}

func permName(p model.Permission) string {
	switch p {
	case model.PermUploadImage:
		return "upload_image"
	case model.PermDeleteImage:
		return "delete_image"
	case model.PermExportData:
		return "export_data"
	default:
		return "unknown"
	}
}
