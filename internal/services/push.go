package services

import (
	"context"
	"fmt"
	"time"

	"checkpoint-capture/internal/config"
	"checkpoint-capture/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

const pushTimeout = 15 * time.Second

type pushClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// PushNotifier alerts administrator devices about new submissions
type PushNotifier struct {
	client  pushClient
	topic   string
	devices []string
	scheme  models.IdentifierScheme
}

// NewPushNotifier creates an APNs token-based notifier
func NewPushNotifier(cfg config.APNSConfig, scheme models.IdentifierScheme) (*PushNotifier, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNS key from file %s: %w", cfg.KeyPath, err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client.Production()
	} else {
		client.Development()
	}

	log.Info().
		Str("bundle_id", cfg.BundleID).
		Bool("production", cfg.Production).
		Int("devices", len(cfg.DeviceTokens)).
		Msg("APNS notifier initialized")

	return newPushNotifier(client, cfg.BundleID, cfg.DeviceTokens, scheme), nil
}

func newPushNotifier(client pushClient, topic string, devices []string, scheme models.IdentifierScheme) *PushNotifier {
	return &PushNotifier{
		client:  client,
		topic:   topic,
		devices: devices,
		scheme:  scheme,
	}
}

// OnSubmitted implements SubmissionObserver
func (n *PushNotifier) OnSubmitted(ctx context.Context, submission models.Submission) {
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	p := payload.NewPayload().
		AlertTitle("New submission").
		AlertBody(fmt.Sprintf("%s: %s", n.scheme.Label, submission.Identifier)).
		Sound("default").
		Custom("submission_id", submission.ID).
		Custom("image_url", submission.ImageURL)

	for _, device := range n.devices {
		notification := &apns2.Notification{
			DeviceToken: device,
			Topic:       n.topic,
			Payload:     p,
		}

		res, err := n.client.PushWithContext(ctx, notification)
		if err != nil {
			log.Error().Err(err).Str("device", shortToken(device)).Msg("Failed to push submission alert")
			continue
		}
		if !res.Sent() {
			log.Warn().
				Int("status", res.StatusCode).
				Str("reason", res.Reason).
				Str("device", shortToken(device)).
				Msg("Submission alert rejected")
		}
	}
}

func shortToken(device string) string {
	if len(device) <= 8 {
		return device
	}
	return device[:8] + "..."
}
