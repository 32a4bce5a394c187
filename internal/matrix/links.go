// ABOUTME: matrix.to link rendering and room reference parsing
// ABOUTME: Turns "!id:server", "#alias:server" or matrix.to links into room ids

package matrix

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"maunium.net/go/mautrix/id"
)

const matrixToPrefix = "https://matrix.to/#/"

// ErrInvalidRoomReference is returned when a parameter looks like a room
// reference but does not resolve to a room.
var ErrInvalidRoomReference = errors.New("invalid room reference")

// MatrixTo returns a shareable matrix.to link for the room, routed via the
// server that owns the room id.
func MatrixTo(roomID id.RoomID) string {
	link := matrixToPrefix + roomID.String()
	if server := serverOf(roomID.String()); server != "" {
		link += "?via=" + server
	}
	return link
}

// LooksLikeRoomReference reports whether s has the syntax of a room id,
// alias or matrix.to room link.
func LooksLikeRoomReference(s string) bool {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, matrixToPrefix) {
		return true
	}
	return (strings.HasPrefix(s, "!") || strings.HasPrefix(s, "#")) && strings.Contains(s, ":")
}

// ResolveRoomReference turns s into a room id. Aliases are resolved
// through the client. It returns ErrInvalidRoomReference when s is not a
// room reference or cannot be resolved.
func ResolveRoomReference(ctx context.Context, client Client, s string) (id.RoomID, error) {
	ref := strings.TrimSpace(s)
	if !LooksLikeRoomReference(ref) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoomReference, s)
	}

	if strings.HasPrefix(ref, matrixToPrefix) {
		target := strings.TrimPrefix(ref, matrixToPrefix)
		if i := strings.IndexAny(target, "?/"); i >= 0 {
			target = target[:i]
		}
		unescaped, err := url.PathUnescape(target)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidRoomReference, s, err)
		}
		ref = unescaped
		if !LooksLikeRoomReference(ref) {
			return "", fmt.Errorf("%w: %q", ErrInvalidRoomReference, s)
		}
	}

	if strings.HasPrefix(ref, "!") {
		return id.RoomID(ref), nil
	}

	roomID, err := client.ResolveAlias(ctx, id.RoomAlias(ref))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidRoomReference, s, err)
	}
	return roomID, nil
}

// serverOf returns the server part of a Matrix identifier ("!x:server").
func serverOf(identifier string) string {
	_, server, found := strings.Cut(identifier, ":")
	if !found {
		return ""
	}
	return server
}
