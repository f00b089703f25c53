// README: notify.Directory is split across two stores in the domain
// (recipient/token data lives on users, route-manager lookup lives on
// organizations); this adapter composes them into the single interface
// Notifier depends on.
package notify

import (
	"context"

	"github.com/orro3790/dispatch/internal/types"
)

type recipientSource interface {
	GetRecipient(ctx context.Context, userID types.ID) (*Recipient, error)
	ClearFCMTokenIfMatches(ctx context.Context, userID types.ID, token string) error
}

type routeManagerSource interface {
	GetRouteManager(ctx context.Context, routeID, orgID types.ID) (*types.ID, error)
}

type directory struct {
	recipients    recipientSource
	routeManagers routeManagerSource
}

// NewDirectory composes a driver store (recipients, FCM tokens) and an
// org store (route managers) into a single notify.Directory.
func NewDirectory(recipients recipientSource, routeManagers routeManagerSource) Directory {
	return &directory{recipients: recipients, routeManagers: routeManagers}
}

func (d *directory) GetRecipient(ctx context.Context, userID types.ID) (*Recipient, error) {
	return d.recipients.GetRecipient(ctx, userID)
}

func (d *directory) ClearFCMTokenIfMatches(ctx context.Context, userID types.ID, token string) error {
	return d.recipients.ClearFCMTokenIfMatches(ctx, userID, token)
}

func (d *directory) GetRouteManager(ctx context.Context, routeID, orgID types.ID) (*types.ID, error) {
	return d.routeManagers.GetRouteManager(ctx, routeID, orgID)
}
