// Package gateway creates and removes the public rooms behind join links.
//
// # Create
//
// Create checks that the requester is joined in the target and may invite
// there, and that the bot may invite and write the gateway pointer. A
// target that already has a gateway gets it back unchanged. Otherwise a new
// room is created with preset public_chat and every power threshold raised
// to 100, so only the bot can reconfigure it. History is restricted to
// joined members, then the target pointer and the gateway pointer are
// written. A failure after room creation is reported with the orphaned
// room id and not rolled back.
//
// # Teardown
//
// Teardown is open to bot administrators and to joined members who may
// invite. It clears both pointers first so a half-removed link never
// admits anyone, bans every gateway member except the bot, then leaves.
// Errors from individual steps are combined with multierr.
//
// Failed preconditions are returned as *DeniedError whose Reason can be
// shown to the user as is.
package gateway
