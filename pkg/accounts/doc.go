// Package accounts implements account records, the active-client usage
// tracker, and the restriction engine.
//
// The restriction flag is persisted, not computed per request: it is set
// when usage exceeds the tier limit or a billing event demands it, and it
// stays set until an upgrade or an explicit clear. A restricted account
// keeps full read access to its data; only creation-type actions are
// blocked.
//
// Client slot accounting goes through ClaimClientSlot/ReleaseClientSlot,
// which mutate the usage counter with conditional updates so concurrent
// creates at the tier boundary cannot both succeed. RecomputeActiveClients
// resets the counter to the true count after every client state change.
package accounts
