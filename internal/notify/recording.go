package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"call-signaling/internal/calls"
	"call-signaling/internal/profiles"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// RecordingNotifier tells a participant that a call recording is available.
// Delivery is best-effort; callers log failures and move on.
type RecordingNotifier interface {
	NotifyRecordingReady(ctx context.Context, userID string, contacts []profiles.Contact, s calls.CallSession) error
}

// LogNotifier is used when no push provider is configured.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) NotifyRecordingReady(ctx context.Context, userID string, contacts []profiles.Contact, s calls.CallSession) error {
	l := n.Log
	if l == nil {
		l = slog.Default()
	}
	l.Info("recording ready", "user_id", userID, "session_id", s.ID, "contacts", len(contacts))
	return nil
}

// FCMNotifier sends recording.ready data messages via Firebase Cloud
// Messaging to the participant's "fcm" contacts.
type FCMNotifier struct {
	client *messaging.Client
	log    *slog.Logger
}

// NewFCMNotifier falls back to GOOGLE_APPLICATION_CREDENTIALS when
// credentialsFile is empty.
func NewFCMNotifier(ctx context.Context, credentialsFile string, log *slog.Logger) (*FCMNotifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining messaging client: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &FCMNotifier{client: client, log: log}, nil
}

func (n *FCMNotifier) NotifyRecordingReady(ctx context.Context, userID string, contacts []profiles.Contact, s calls.CallSession) error {
	ttl := time.Hour
	var errs []error
	for _, c := range contacts {
		if c.Platform != "fcm" {
			continue
		}
		msg := recordingMessage(c.Token, s)
		msg.Android = &messaging.AndroidConfig{Priority: "normal", TTL: &ttl}

		id, err := n.client.Send(ctx, msg)
		if err != nil {
			if messaging.IsUnregistered(err) {
				errs = append(errs, fmt.Errorf("fcm: token no longer valid: %w", err))
				continue
			}
			errs = append(errs, fmt.Errorf("fcm: send failed: %w", err))
			continue
		}
		n.log.Debug("fcm message sent", "message_id", id, "user_id", userID, "session_id", s.ID)
	}
	return errors.Join(errs...)
}

func recordingMessage(token string, s calls.CallSession) *messaging.Message {
	return &messaging.Message{
		Token: token,
		Data: map[string]string{
			"type":               "recording.ready",
			"session_id":         s.ID,
			"recording_url":      s.RecordingURL,
			"recording_duration": strconv.Itoa(s.RecordingDuration),
		},
	}
}
