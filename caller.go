package sitegate

import "strings"

// ActorKind distinguishes guest keys from user ids inside ledger rows
type ActorKind string

const (
	ActorGuest ActorKind = "GUEST"
	ActorUser  ActorKind = "USER"
)

// Actor is the subject performing an interaction: an opaque guest key or a
// stable user id.
type Actor struct {
	Key  string    `json:"key"`
	Kind ActorKind `json:"kind"`
}

// GuestActor wraps a client generated guest key
func GuestActor(key string) Actor {
	return Actor{Key: strings.TrimSpace(key), Kind: ActorGuest}
}

// UserActor wraps a UserIdentity id
func UserActor(id string) Actor {
	return Actor{Key: id, Kind: ActorUser}
}

// Validate rejects actors without a key or with an unknown kind
func (a Actor) Validate() error {
	violations := map[string]string{}
	if a.Key == "" {
		violations["actor.key"] = "actor key is required"
	}
	if a.Kind != ActorGuest && a.Kind != ActorUser {
		violations["actor.kind"] = "actor kind must be GUEST or USER"
	}
	if len(violations) > 0 {
		return NewValidationError(violations)
	}
	return nil
}

func (a Actor) String() string {
	return string(a.Kind) + ":" + a.Key
}

// CallerKind names the variant of a Caller
type CallerKind string

const (
	CallerGuest CallerKind = "guest"
	CallerUser  CallerKind = "user"
	CallerAdmin CallerKind = "admin"
)

// Caller is the authorization context of a request. It is one of
// GuestCaller, UserCaller or AdminCaller.
type Caller interface {
	Kind() CallerKind
	isCaller()
}

// GuestCaller is an unauthenticated visitor identified by a guest key
type GuestCaller struct {
	Key string
}

// UserCaller is a signed in user
type UserCaller struct {
	Identity UserIdentity
}

// AdminCaller holds verified admin access token claims
type AdminCaller struct {
	Claims *TokenClaims
}

func (GuestCaller) Kind() CallerKind { return CallerGuest }
func (UserCaller) Kind() CallerKind  { return CallerUser }
func (AdminCaller) Kind() CallerKind { return CallerAdmin }

func (GuestCaller) isCaller() {}
func (UserCaller) isCaller()  {}
func (AdminCaller) isCaller() {}

// ActorOf returns the ledger actor of a caller. Admins do not act on the
// ledger, so ok is false for them and for nil callers.
func ActorOf(c Caller) (Actor, bool) {
	switch v := c.(type) {
	case GuestCaller:
		if v.Key == "" {
			return Actor{}, false
		}
		return GuestActor(v.Key), true
	case UserCaller:
		if v.Identity.ID == "" {
			return Actor{}, false
		}
		return UserActor(v.Identity.ID), true
	default:
		return Actor{}, false
	}
}
