// Package command implements the bot's chat commands.
//
// Messages of the form "!<prefix> <command> [params]" are routed by the
// Dispatcher. The prefix defaults to "join":
//
//	!join link Team
//	!join link #team:example.org Team
//	!join unlink
//	!join name Gatekeeper
//
// quit and logout are limited to bot administrators, name to room
// moderators. link and unlink check room power through the gateway
// lifecycle.
package command
