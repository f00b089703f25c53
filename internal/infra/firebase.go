// README: Firebase Admin SDK initialisation and token verifier.
package infra

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/orro3790/dispatch/internal/notify"
)

// FirebaseToken holds the verified token data used by downstream middleware.
type FirebaseToken struct {
	UID    string
	Claims map[string]interface{}
}

// TokenVerifier verifies a raw Firebase ID token string and returns token data.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error)
}

// firebaseVerifier is the production implementation backed by the Firebase Admin SDK.
type firebaseVerifier struct {
	client *auth.Client
}

// NewFirebaseVerifier creates a TokenVerifier using the Firebase Admin SDK.
// If credentialsFile is non-empty it is used as the service-account JSON path;
// otherwise application-default credentials / GOOGLE_APPLICATION_CREDENTIALS are used.
// projectID is required so the SDK can construct the correct token-verification URL.
func NewFirebaseVerifier(ctx context.Context, projectID, credentialsFile string) (TokenVerifier, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	return &firebaseVerifier{client: client}, nil
}

func (v *firebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return &FirebaseToken{UID: token.UID, Claims: token.Claims}, nil
}

// FCMTransport implements notify.PushTransport over the Firebase Cloud
// Messaging client. The failure classification here is what distinguishes
// an invalid/unregistered token (driver record should be cleared) from a
// transient or terminal-other failure (logged and counted, token kept).
type FCMTransport struct {
	client *messaging.Client
}

// NewFCMTransport builds the push transport from its own Firebase app,
// created with the same project id and credentials file as the auth
// client's.
func NewFCMTransport(ctx context.Context, projectID, credentialsFile string) (*FCMTransport, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Messaging: %w", err)
	}
	return &FCMTransport{client: client}, nil
}

// Send implements notify.PushTransport.
func (t *FCMTransport) Send(ctx context.Context, token, title, body string, data notify.Data) (notify.PushFailureClass, error) {
	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	}
	if _, err := t.client.Send(ctx, msg); err != nil {
		if messaging.IsRegistrationTokenNotRegistered(err) || messaging.IsInvalidArgument(err) {
			return notify.PushFailureInvalidToken, err
		}
		if messaging.IsUnavailable(err) || messaging.IsInternal(err) || messaging.IsQuotaExceeded(err) {
			return notify.PushFailureTransient, err
		}
		return notify.PushFailureTerminalOther, err
	}
	return "", nil
}
