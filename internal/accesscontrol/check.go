// Package accesscontrol implements the gateway's one authorization rule:
// an unowned run may be acted on by any requester; a run with a recorded
// owner is refused only to a requester whose identity is known and differs
// from that owner. Mirrors _check_access_permission in workflow_runs.py.
package accesscontrol

import "wesgateway/internal/apierr"

// Check returns apierr.ErrForbidden if owner is set and differs from
// requester. A nil owner (unowned run) or a nil requester (no user context
// established) always passes.
func Check(owner, requester *string) error {
	if owner == nil || requester == nil {
		return nil
	}
	if *owner != *requester {
		return apierr.Wrap("check_access", apierr.ErrForbidden)
	}
	return nil
}
