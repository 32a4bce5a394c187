// ABOUTME: Password login for the bot account
// ABOUTME: Creates a fresh device with a unique display name per login

package matrix

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"maunium.net/go/mautrix"
)

// Login authenticates against the homeserver with a password and returns a
// client holding the new access token and device id.
func Login(ctx context.Context, homeserver, username, password, deviceName string) (*mautrix.Client, error) {
	client, err := mautrix.NewClient(homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
	defer cancel()

	_, err = client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: username,
		},
		Password:                 password,
		InitialDeviceDisplayName: deviceDisplayName(deviceName),
		StoreCredentials:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("logging in as %s: %w", username, err)
	}

	return client, nil
}

// deviceDisplayName suffixes the configured name so concurrent logins are
// distinguishable in the session list.
func deviceDisplayName(base string) string {
	if base == "" {
		base = "coven-joinlink"
	}
	return base + "-" + uuid.NewString()[:8]
}
