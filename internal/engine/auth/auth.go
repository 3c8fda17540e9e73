package auth

import "fmt"

// ForbiddenError indicates the caller has no access to a workspace.
type ForbiddenError struct {
	WorkspaceID string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("no access to workspace %s", e.WorkspaceID)
}

// Principal is an authenticated caller.
type Principal struct {
	UserID      string
	WorkspaceID string
	Source      string
}

// Authorize reports whether p may act on workspaceID. Principals are bound
// to the single workspace their token or key was issued for.
func (p Principal) Authorize(workspaceID string) error {
	if p.UserID == "" {
		return fmt.Errorf("principal missing user")
	}
	if workspaceID == "" || p.WorkspaceID != workspaceID {
		return ForbiddenError{WorkspaceID: workspaceID}
	}
	return nil
}
