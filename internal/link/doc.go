// Package link stores the two halves of a join link as encrypted state
// events: the gateway pointer in the target room and the target pointer in
// the gateway room.
//
// Readers get a State next to the room id. Unset covers missing slots,
// cleared slots and transport failures. Corrupted means a blob was found
// that does not decrypt with the configured key.
package link
