package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/conorfennell/duedeck/internal/domain"
	"github.com/conorfennell/duedeck/internal/gradeplatform"
	"github.com/conorfennell/duedeck/internal/lms"
)

// Provider names a connectable upstream.
type Provider string

const (
	ProviderLMS     Provider = "lms"
	ProviderGrading Provider = "grading"
)

var (
	// ErrUnknownProvider is returned for a provider name other than lms or grading.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrUserNotFound is returned when an account operation names an unknown user.
	ErrUserNotFound = errors.New("user not found")
)

// ParseProvider accepts the provider names used on the command line and the API.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderLMS, ProviderGrading:
		return Provider(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// ConnectLMS verifies token against the LMS and stores it sealed.
func (s *Syncer) ConnectLMS(ctx context.Context, userID, token string) error {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	info, err := lms.New(s.opts.LMSBaseURL, token, s.opts.HTTPClient).SiteInfo(ctx)
	if err != nil {
		return domain.AuthError("The LMS rejected this token.", err)
	}
	sealed, err := s.vault.Encrypt(token)
	if err != nil {
		return err
	}
	if err := s.store.SetLMSToken(ctx, userID, sealed); err != nil {
		return err
	}
	slog.Info("LMS connected", "user_id", userID, "lms_user_id", info.UserID)
	return nil
}

// ConnectLMSWithPassword exchanges LMS credentials for a web-service token
// and connects with it. The password itself is not kept.
func (s *Syncer) ConnectLMSWithPassword(ctx context.Context, userID, username, password string) error {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	token, err := lms.RequestToken(ctx, s.opts.HTTPClient, s.opts.LMSBaseURL, s.opts.LMSService, username, password)
	if err != nil {
		var remote *lms.RemoteError
		if errors.As(err, &remote) {
			return domain.AuthError("The LMS rejected these credentials.", err)
		}
		return domain.UnreachableError("Could not reach the LMS", err)
	}
	return s.ConnectLMS(ctx, userID, token)
}

// ConnectGrading probes a login with password and stores it sealed on success.
func (s *Syncer) ConnectGrading(ctx context.Context, userID, password string) error {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return err
	}
	session, err := gradeplatform.NewSession(s.opts.GradingBaseURL, s.opts.GradingUserAgent, s.opts.HTTPClient)
	if err != nil {
		return err
	}
	if _, err := session.Login(ctx, user.Email, password); err != nil {
		return err
	}
	sealed, err := s.vault.Encrypt(password)
	if err != nil {
		return err
	}
	if err := s.store.SetGradingPassword(ctx, userID, sealed); err != nil {
		return err
	}
	slog.Info("Grading platform connected", "user_id", userID)
	return nil
}

// Disconnect drops the stored credential for p.
func (s *Syncer) Disconnect(ctx context.Context, userID string, p Provider) error {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	var err error
	switch p {
	case ProviderLMS:
		err = s.store.ClearLMSToken(ctx, userID)
	case ProviderGrading:
		err = s.store.ClearGradingPassword(ctx, userID)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}
	if err != nil {
		return err
	}
	slog.Info("Provider disconnected", "user_id", userID, "provider", p)
	return nil
}

func (s *Syncer) requireUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}
