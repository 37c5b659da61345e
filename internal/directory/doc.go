// Package directory resolves role-addressed group membership through the
// external user-directory service.
//
// Group conversations here have no roster; "evaluators" means whoever holds
// that role at delivery time. The Client queries the workflow layer's
// directory endpoint and caches results with a short TTL, since the live
// fan-out tolerates a briefly stale member set.
package directory
