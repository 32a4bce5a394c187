// Package power answers permission questions from a room's power levels.
//
// Admin means level 100 or more, moderator 50 or more. A query that cannot
// read the power levels returns the error; callers deny.
package power
