package launch

import (
	"github.com/google/uuid"
)

// Account is the minimal identity the launch pipeline threads into game
// arguments. Only offline accounts are modeled; spec.md's Non-goals
// exclude online authentication flows.
type Account struct {
	Username string
	UUID     string
}

// OfflineAccount builds an Account the way the account provider's
// current() does when no account is signed in: a deterministic UUID
// derived from the display name so the same name always maps to the
// same player identity across launches, with no account service
// round-trip.
func OfflineAccount(username string) Account {
	return Account{Username: username, UUID: OfflineUUID(username)}
}

// OfflineUUID computes UUIDv5(NAMESPACE_OID, username), the formula
// spec.md's account provider interface names for the offline identity
// fallback.
func OfflineUUID(username string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(username)).String()
}
