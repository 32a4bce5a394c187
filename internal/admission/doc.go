// Package admission decides whether a user who joined a gateway room gets
// invited to the linked target room.
//
// A notification passes these gates in order: it must be a join by someone
// other than the bot, the bot must be admin in the room, the room must carry
// a target pointer, and the event must not have been handled within the
// dedupe window. The target's gateway pointer must point back at the room,
// and the user must not already be joined there. Decisions for the same
// user never run concurrently.
package admission
