// README: Notifier — in-app persistence plus best-effort push fan-out.
// In-app persistence failing does not prevent the push attempt; push
// failing does not affect in-app persistence or the caller.
package notify

import (
	"context"
	"sync"

	"github.com/go-logr/logr"

	"github.com/orro3790/dispatch/internal/types"
)

// bulkConcurrency caps concurrent push sends within a single SendBulk call.
const bulkConcurrency = 10

// Recipient is the subset of driver/user fields the notifier needs.
type Recipient struct {
	UserID   types.ID
	OrgID    types.ID
	FCMToken *string
	Locale   string
}

// Directory resolves recipients and clears stale push tokens.
type Directory interface {
	GetRecipient(ctx context.Context, userID types.ID) (*Recipient, error)
	ClearFCMTokenIfMatches(ctx context.Context, userID types.ID, token string) error
	GetRouteManager(ctx context.Context, routeID, orgID types.ID) (*types.ID, error)
}

// InAppStore persists the in-app notification row.
type InAppStore interface {
	Insert(ctx context.Context, userID types.ID, typ Type, opts Opts) error
}

// PushTransport is the injected push capability (FCM in production).
type PushTransport interface {
	Send(ctx context.Context, token, title, body string, data Data) (PushFailureClass, error)
}

// Notifier sends a single notification to one or many recipients through
// both the in-app and push channels.
type Notifier struct {
	dir       Directory
	inApp     InAppStore
	transport PushTransport
	log       logr.Logger
}

func New(dir Directory, inApp InAppStore, transport PushTransport, log logr.Logger) *Notifier {
	return &Notifier{dir: dir, inApp: inApp, transport: transport, log: log}
}

// Send delivers one notification to one recipient.
func (n *Notifier) Send(ctx context.Context, userID types.ID, typ Type, opts Opts) Outcome {
	recipient, err := n.dir.GetRecipient(ctx, userID)
	if err != nil || recipient == nil {
		return Outcome{UserID: userID, Skipped: true}
	}
	if opts.OrganizationID != nil && recipient.OrgID != *opts.OrganizationID {
		n.log.V(1).Info("dropping notification: recipient outside organization scope",
			"userID", userID, "wantOrg", *opts.OrganizationID, "haveOrg", recipient.OrgID)
		return Outcome{UserID: userID, Skipped: true}
	}

	out := Outcome{UserID: userID}

	if err := n.inApp.Insert(ctx, userID, typ, opts); err != nil {
		out.InAppErr = err
		n.log.Error(err, "in-app notification persist failed", "userID", userID, "type", typ)
	} else {
		out.InAppOK = true
	}

	if recipient.FCMToken == nil || *recipient.FCMToken == "" || n.transport == nil {
		return out
	}
	class, err := n.transport.Send(ctx, *recipient.FCMToken, opts.RenderTitle, opts.RenderBody, opts.Data)
	if err != nil {
		out.PushErr = err
		out.PushClass = class
		n.log.Error(err, "push send failed", "userID", userID, "type", typ, "class", class)
		if class == PushFailureInvalidToken {
			if cerr := n.dir.ClearFCMTokenIfMatches(ctx, userID, *recipient.FCMToken); cerr != nil {
				n.log.Error(cerr, "failed to clear stale fcm token", "userID", userID)
			}
		}
		return out
	}
	out.PushOK = true
	return out
}

// SendBulk fans a notification out to many recipients, bounding push
// concurrency to protect the transport.
func (n *Notifier) SendBulk(ctx context.Context, userIDs []types.ID, typ Type, opts Opts) []Outcome {
	outcomes := make([]Outcome, len(userIDs))
	sem := make(chan struct{}, bulkConcurrency)
	var wg sync.WaitGroup

	for i, id := range userIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id types.ID) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = n.Send(ctx, id, typ, opts)
		}(i, id)
	}
	wg.Wait()
	return outcomes
}

// SendManagerAlert resolves the route's primary manager in-org and
// forwards; returns false (no error) if no manager is assigned.
func (n *Notifier) SendManagerAlert(ctx context.Context, routeID, orgID types.ID, typ Type, opts Opts) (bool, error) {
	managerID, err := n.dir.GetRouteManager(ctx, routeID, orgID)
	if err != nil {
		return false, err
	}
	if managerID == nil {
		return false, nil
	}
	opts.OrganizationID = &orgID
	out := n.Send(ctx, *managerID, typ, opts)
	return !out.Skipped, nil
}
