package firebase

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/memharbor/callcoord/internal/push"
)

// usersCollection is where the mobile apps register their device tokens.
const usersCollection = "users"

// userDoc is the subset of the user document the dispatcher needs.
type userDoc struct {
	FCMToken  string `firestore:"fcmToken"`
	VoIPToken string `firestore:"voipToken"`
	Platform  string `firestore:"platform"`
}

// Tokens implements push.TokenSource against the users collection. An
// absent document means the user never registered a device and yields
// (nil, nil).
func (s *Service) Tokens(ctx context.Context, userID string) (*push.DeviceTokens, error) {
	snap, err := s.fs.Collection(usersCollection).Doc(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching user %s: %w", userID, err)
	}

	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decoding user %s: %w", userID, err)
	}

	if doc.FCMToken == "" && doc.VoIPToken == "" {
		return nil, nil
	}

	return &push.DeviceTokens{
		FCMToken:  doc.FCMToken,
		VoIPToken: doc.VoIPToken,
		Platform:  doc.Platform,
	}, nil
}
