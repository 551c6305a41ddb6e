package auth

import "context"

// PermissionChecker answers whether a role holds a capability. The
// repository implements it against role_permissions.
type PermissionChecker interface {
	HasCapability(ctx context.Context, roleID int64, capability string) (bool, error)
	Capabilities(ctx context.Context, roleID int64) ([]string, error)
}
