// Package matrix is the transport layer of coven-joinlink.
//
// # Client
//
// Client is the narrow contract the join-link core consumes: room creation,
// state event reads and writes, membership listing, invite/ban/leave and
// message sending. MautrixClient implements it on top of mautrix and wraps
// every call in a request timeout. Tests use matrixtest.FakeClient.
//
// # Bot
//
// Bot owns the sync loop. It:
//
//   - ignores its own events and everything older than its start time
//   - accepts invites from authorized users
//   - hands text messages to a MessageHandler and membership changes to a
//     MemberHandler, each on its own goroutine
//   - stops on context cancellation or Quit, waiting for in-flight handlers
//
// # Helpers
//
// MatrixTo renders shareable links, ResolveRoomReference parses room ids,
// aliases and matrix.to links, and Text/Markdown build reply content.
package matrix
