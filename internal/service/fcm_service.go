package service

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// FCMService sends push notifications via Firebase Cloud Messaging.
type FCMService struct {
	client *messaging.Client
	log    *zap.Logger
}

// NewFCMService creates an FCM service. Returns nil if Firebase is not configured.
func NewFCMService(serviceAccountPath string, log *zap.Logger) *FCMService {
	if serviceAccountPath == "" {
		return nil
	}
	ctx := context.Background()
	opt := option.WithCredentialsFile(serviceAccountPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		log.Error("init firebase app", zap.Error(err))
		return nil
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		log.Error("get messaging client", zap.Error(err))
		return nil
	}
	return &FCMService{client: client, log: log}
}

func (s *FCMService) Send(ctx context.Context, token string, msg *PushMessage) error {
	_, err := s.client.Send(ctx, s.message(token, msg))
	if err != nil {
		return classifyFCMError(err)
	}
	return nil
}

// SendEach submits one multicast request. The slice holds one result per token (nil on success);
// the error is set only when the request itself failed.
func (s *FCMService) SendEach(ctx context.Context, tokens []string, msg *PushMessage) ([]error, error) {
	br, err := s.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens:       tokens,
		Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
		Data:         msg.Data,
		Android:      androidConfig(),
		APNS:         apnsConfig(),
	})
	if err != nil {
		return nil, err
	}
	results := make([]error, len(tokens))
	for i, resp := range br.Responses {
		if i >= len(results) {
			break
		}
		if resp == nil || resp.Success {
			continue
		}
		results[i] = classifyFCMError(resp.Error)
	}
	if br.FailureCount > 0 {
		s.log.Debug("multicast partial failure",
			zap.Int("success", br.SuccessCount), zap.Int("failure", br.FailureCount))
	}
	return results, nil
}

func (s *FCMService) message(token string, msg *PushMessage) *messaging.Message {
	return &messaging.Message{
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data:    msg.Data,
		Token:   token,
		Android: androidConfig(),
		APNS:    apnsConfig(),
	}
}

func androidConfig() *messaging.AndroidConfig {
	return &messaging.AndroidConfig{
		Priority: "high",
		Notification: &messaging.AndroidNotification{
			Sound: "default",
		},
	}
}

func apnsConfig() *messaging.APNSConfig {
	return &messaging.APNSConfig{
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{
				Sound: "default",
			},
		},
	}
}

func classifyFCMError(err error) error {
	switch {
	case err == nil:
		return nil
	case messaging.IsUnregistered(err):
		return fmt.Errorf("%w: %v", ErrTokenUnregistered, err)
	case messaging.IsInvalidArgument(err):
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return err
}
