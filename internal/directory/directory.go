// ABOUTME: Directory abstraction over the external user-directory service
// ABOUTME: Resolves role-addressed group names to recipient user id sets

package directory

import "context"

// GroupEveryone is the reserved group name addressing every known user.
const GroupEveryone = "everyone"

// Directory answers membership questions for role-addressed groups. The
// workflow layer owns users and roles; this service only ever sees user ids.
type Directory interface {
	// UserIDsByRole returns the ids of all users carrying the given role.
	UserIDsByRole(ctx context.Context, role string) ([]string, error)

	// AllUserIDs returns the ids of every known user.
	AllUserIDs(ctx context.Context) ([]string, error)
}

// MembersOf resolves a group name to its member ids. The reserved name
// "everyone" maps to the full user set; any other name is treated as a role.
func MembersOf(ctx context.Context, d Directory, groupName string) ([]string, error) {
	if groupName == GroupEveryone {
		return d.AllUserIDs(ctx)
	}
	return d.UserIDsByRole(ctx, groupName)
}
