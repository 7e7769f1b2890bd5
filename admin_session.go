package sitegate

import "context"

// AdminState is a node of the admin realm state machine:
//
//	Unauthenticated --(valid PIN)--> Authenticated
//	Authenticated --(access expires)--> NeedsRefresh
//	NeedsRefresh --(valid refresh)--> Authenticated
//	NeedsRefresh --(refresh invalid or expired)--> Unauthenticated
type AdminState string

const (
	AdminUnauthenticated AdminState = "unauthenticated"
	AdminAuthenticated   AdminState = "authenticated"
	AdminNeedsRefresh    AdminState = "needs_refresh"
)

// AdminDecision is the outcome of evaluating an admin request.
// Refreshed holds the tokens minted during a transparent refresh, which the
// transport must send back before continuing.
type AdminDecision struct {
	State     AdminState
	Claims    *TokenClaims
	Refreshed *TokenPair
	Reason    InvalidReason
}

// Proceed reports whether the request may reach the admin handler
func (d AdminDecision) Proceed() bool {
	return d.State == AdminAuthenticated && d.Claims != nil
}

// EvaluateAdminSession runs the state machine for one request. A terminal
// Unauthenticated decision is never retried here; the gate redirects to login.
func (s *AdminTokenService) EvaluateAdminSession(ctx context.Context, accessRaw, refreshRaw string) AdminDecision {
	state := AdminUnauthenticated
	reason := ReasonMissing

	if accessRaw != "" {
		v := s.VerifyAccess(accessRaw)
		if v.Valid {
			return AdminDecision{State: AdminAuthenticated, Claims: v.Claims}
		}
		state = AdminNeedsRefresh
		reason = v.Reason
	}

	if refreshRaw == "" {
		return AdminDecision{State: AdminUnauthenticated, Reason: reason}
	}

	// Missing or invalid access with a refresh token present is the
	// NeedsRefresh state.
	state = AdminNeedsRefresh

	pair, err := s.Refresh(ctx, refreshRaw)
	if err != nil {
		s.logger.Info("admin refresh rejected", "state", state, "error", err)
		reason = ReasonMalformed
		if IsTokenExpiredError(err) {
			reason = ReasonExpired
		}
		return AdminDecision{State: AdminUnauthenticated, Reason: reason}
	}

	v := s.VerifyAccess(pair.Access.Raw)
	if !v.Valid {
		return AdminDecision{State: AdminUnauthenticated, Reason: v.Reason}
	}

	return AdminDecision{
		State:     AdminAuthenticated,
		Claims:    v.Claims,
		Refreshed: &pair,
	}
}
