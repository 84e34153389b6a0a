// Package notifications stores user-facing notices and forwards them to the
// desktop.
package notifications

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"songBot/internal/domain"
	"songBot/internal/infrastructure/logging"
)

// Sink shows a notification to the user. It may block.
type Sink interface {
	Show(ctx context.Context, title, message string) error
}

type Service struct {
	repo    domain.NotificationRepository
	sink    Sink
	publish func(*domain.Notification)
	now     func() time.Time
	log     *logrus.Entry
}

// NewService builds the service. Every argument may be nil.
func NewService(repo domain.NotificationRepository, sink Sink, publish func(*domain.Notification)) *Service {
	return &Service{
		repo:    repo,
		sink:    sink,
		publish: publish,
		now:     time.Now,
		log:     logging.GetLogger(logging.NotifyModule),
	}
}

func (s *Service) Notify(ctx context.Context, title, message string) {
	s.Send(ctx, domain.NotificationGeneric, title, message)
}

// Send never fails; persistence and delivery errors are only logged.
func (s *Service) Send(ctx context.Context, kind domain.NotificationType, title, message string) {
	n := &domain.Notification{
		Type:      kind,
		Title:     strings.TrimSpace(title),
		Message:   strings.TrimSpace(message),
		CreatedAt: s.now().UTC(),
	}

	if s.repo != nil {
		saved, err := s.repo.SaveNotification(ctx, n)
		if err != nil {
			s.log.WithError(err).Warn("could not store notification")
		} else if saved != nil {
			n = saved
		}
	}

	s.log.WithFields(logrus.Fields{"type": kind, "title": n.Title}).Info(n.Message)

	if s.publish != nil {
		s.publish(n)
	}
	if s.sink == nil {
		return
	}
	go func() {
		showCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.sink.Show(showCtx, n.Title, n.Message); err != nil {
			s.log.WithError(err).Debug("desktop notification failed")
		}
	}()
}

func (s *Service) List(ctx context.Context, limit int) ([]*domain.Notification, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.ListNotifications(ctx, limit)
}

var _ domain.Notifier = (*Service)(nil)
