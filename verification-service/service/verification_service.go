// Package service composes the token store, rate limiter, mailer and audit
// recorder into the three public verification operations: issue at
// registration, resend, and complete.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"mailverify-backend/shared/clients"
	"mailverify-backend/shared/config"
	utils "mailverify-backend/shared/utils/auth"
	"mailverify-backend/verification-service/audit"
	"mailverify-backend/verification-service/ratelimit"
	"mailverify-backend/verification-service/store"

	"mailverify-backend/shared/database/models/auth"
	"mailverify-backend/shared/database/models/notification"
)

// RequestInfo carries per-request correlation data into audit entries
type RequestInfo struct {
	SourceIP  string
	UserAgent string
}

// ResendResult reports a successful resend
type ResendResult struct {
	// Remaining attempts left in the sliding window
	Remaining int
}

// Service orchestrates the verification flows
type Service struct {
	store   *store.TokenStore
	limiter *ratelimit.Limiter
	users   IdentityStore
	mailer  clients.Mailer
	audit   *audit.Recorder
	cfg     *config.Config
}

// NewService wires the verification orchestrator
func NewService(
	tokenStore *store.TokenStore,
	limiter *ratelimit.Limiter,
	users IdentityStore,
	mailer clients.Mailer,
	recorder *audit.Recorder,
	cfg *config.Config,
) *Service {
	return &Service{
		store:   tokenStore,
		limiter: limiter,
		users:   users,
		mailer:  mailer,
		audit:   recorder,
		cfg:     cfg,
	}
}

// IssueInitial creates the first verification token for a freshly registered
// subject. The registration flow is responsible for delivering the returned
// secret; this operation only mints and audits it.
func (s *Service) IssueInitial(ctx context.Context, subjectID uuid.UUID, email string, req RequestInfo) (string, error) {
	if err := utils.ValidateEmail(email); err != nil {
		return "", ErrInvalidFormat
	}

	secret, token, err := s.store.Issue(ctx, store.IssueParams{
		SubjectID:    subjectID,
		TokenType:    auth.TokenTypeEmailVerification,
		TTL:          s.cfg.TokenTTL(),
		IssuedFromIP: req.SourceIP,
		MaxAttempts:  s.cfg.TokenMaxAttempts,
		TokenBytes:   s.cfg.TokenByteLength,
		Metadata:     map[string]string{"origin": "registration"},
	})
	if err != nil {
		return "", err
	}

	s.audit.Record(ctx, audit.Entry{
		SubjectID: &subjectID,
		Action:    notification.ActionTokenCreated,
		TokenID:   &token.ID,
		SourceIP:  req.SourceIP,
		UserAgent: req.UserAgent,
		Details:   map[string]string{"token_prefix": utils.TokenPrefix(secret), "origin": "registration"},
		Success:   true,
	})

	return secret, nil
}

// Resend issues a replacement token and mails it, subject to the
// sliding-window rate limit. A mail delivery failure leaves the new token
// valid but releases the rate-limit reservation, so a mail-provider outage
// does not eat the subject's budget.
func (s *Service) Resend(ctx context.Context, email string, req RequestInfo) (ResendResult, error) {
	if err := utils.ValidateEmail(email); err != nil {
		return ResendResult{}, ErrInvalidFormat
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return ResendResult{}, err
	}
	if user.EmailVerified {
		return ResendResult{}, ErrAlreadyVerified
	}

	decision, err := s.limiter.CheckAndReserve(ctx, ratelimit.Reservation{
		SubjectID: user.ID,
		TokenType: auth.TokenTypeEmailVerification,
		Email:     email,
		IPAddress: req.SourceIP,
	})
	if err != nil {
		// Limiter backend failure. Fail-closed denies the resend; fail-open
		// proceeds without a reservation.
		if s.cfg.RateLimitFailureMode == "fail_open" {
			decision = ratelimit.Decision{Allowed: true}
		} else {
			return ResendResult{}, fmt.Errorf("rate limit check failed: %w", err)
		}
	}

	if !decision.Allowed {
		s.audit.Record(ctx, audit.Entry{
			SubjectID: &user.ID,
			Action:    notification.ActionResendBlocked,
			SourceIP:  req.SourceIP,
			UserAgent: req.UserAgent,
			Details:   map[string]string{"retry_after_seconds": strconv.Itoa(int(decision.RetryAfter.Seconds()))},
			Success:   false,
		})
		return ResendResult{}, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	secret, token, err := s.store.Issue(ctx, store.IssueParams{
		SubjectID:    user.ID,
		TokenType:    auth.TokenTypeEmailVerification,
		TTL:          s.cfg.TokenTTL(),
		IssuedFromIP: req.SourceIP,
		MaxAttempts:  s.cfg.TokenMaxAttempts,
		TokenBytes:   s.cfg.TokenByteLength,
		Metadata:     map[string]string{"origin": "resend"},
	})
	if err != nil {
		return ResendResult{}, err
	}

	subject, htmlBody, textBody := s.buildVerificationMail(user.FirstName, secret)
	if _, err := s.mailer.Send(ctx, user.Email, subject, htmlBody, textBody); err != nil {
		// The token stays valid; only the delivery failed. Release the
		// reservation so this attempt does not count against the budget.
		details := map[string]string{}
		if decision.AttemptID != uuid.Nil {
			if relErr := s.limiter.Release(ctx, decision.AttemptID); relErr != nil {
				details["release_error"] = relErr.Error()
			}
		}

		s.audit.Record(ctx, audit.Entry{
			SubjectID:    &user.ID,
			Action:       notification.ActionMailDeliveryFailed,
			TokenID:      &token.ID,
			SourceIP:     req.SourceIP,
			UserAgent:    req.UserAgent,
			Details:      details,
			Success:      false,
			ErrorMessage: err.Error(),
		})
		return ResendResult{}, &MailDeliveryError{Err: err}
	}

	s.audit.Record(ctx, audit.Entry{
		SubjectID: &user.ID,
		Action:    notification.ActionResendRequested,
		TokenID:   &token.ID,
		SourceIP:  req.SourceIP,
		UserAgent: req.UserAgent,
		Details:   map[string]string{"token_prefix": utils.TokenPrefix(secret), "remaining": strconv.Itoa(decision.Remaining)},
		Success:   true,
	})

	return ResendResult{Remaining: decision.Remaining}, nil
}

// Complete consumes a presented secret and confirms the subject's email.
// Every failure kind is audited with its precise reason but reported to the
// caller as the one generic ErrInvalidToken, and each failure branch does
// the same amount of work, so neither response content nor timing reveals
// which check failed.
func (s *Service) Complete(ctx context.Context, secret string, req RequestInfo) (uuid.UUID, error) {
	if err := utils.ValidateTokenFormat(secret); err != nil {
		s.audit.Record(ctx, audit.Entry{
			Action:       notification.ActionVerificationFailed,
			SourceIP:     req.SourceIP,
			UserAgent:    req.UserAgent,
			Details:      map[string]string{"reason": "invalid_format"},
			Success:      false,
			ErrorMessage: "token format rejected before lookup",
		})
		return uuid.Nil, ErrInvalidToken
	}

	subjectID, err := s.store.Consume(ctx, secret)
	if err != nil {
		var storageErr *store.StorageError
		if errors.As(err, &storageErr) {
			return uuid.Nil, err
		}

		s.audit.Record(ctx, audit.Entry{
			Action:       notification.ActionVerificationFailed,
			SourceIP:     req.SourceIP,
			UserAgent:    req.UserAgent,
			Details:      map[string]string{"reason": consumeFailureReason(err), "token_prefix": utils.TokenPrefix(secret)},
			Success:      false,
			ErrorMessage: err.Error(),
		})
		return uuid.Nil, ErrInvalidToken
	}

	if err := s.users.MarkConfirmed(ctx, subjectID, time.Now().UTC()); err != nil {
		return uuid.Nil, fmt.Errorf("failed to mark subject confirmed: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{
		SubjectID: &subjectID,
		Action:    notification.ActionVerificationSuccess,
		SourceIP:  req.SourceIP,
		UserAgent: req.UserAgent,
		Details:   map[string]string{"token_prefix": utils.TokenPrefix(secret)},
		Success:   true,
	})

	return subjectID, nil
}

// Revoke administratively invalidates the subject's active verification
// token.
func (s *Service) Revoke(ctx context.Context, email string, req RequestInfo) error {
	if err := utils.ValidateEmail(email); err != nil {
		return ErrInvalidFormat
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}

	revoked, err := s.store.Revoke(ctx, user.ID, auth.TokenTypeEmailVerification)
	if err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Entry{
		SubjectID: &user.ID,
		Action:    notification.ActionTokenRevoked,
		SourceIP:  req.SourceIP,
		UserAgent: req.UserAgent,
		Details:   map[string]string{"revoked_count": strconv.FormatInt(revoked, 10)},
		Success:   true,
	})

	return nil
}

// consumeFailureReason maps store errors to audit detail strings
func consumeFailureReason(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrExpired):
		return "expired"
	case errors.Is(err, store.ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, store.ErrInvalidated):
		return "invalidated"
	case errors.Is(err, store.ErrTooManyAttempts):
		return "too_many_attempts"
	default:
		return "unknown"
	}
}

// buildVerificationMail renders the resend message. Kept deliberately
// minimal; anything fancier belongs in a template service.
func (s *Service) buildVerificationMail(firstName, secret string) (subject, htmlBody, textBody string) {
	name := firstName
	if name == "" {
		name = "there"
	}

	link := fmt.Sprintf("%s/verify-email?token=%s", s.cfg.FrontendURL, secret)

	subject = "Please verify your email address"
	htmlBody = fmt.Sprintf(
		"<p>Hi %s,</p><p>Click the link below to verify your email address:</p><p><a href=%q>Verify my email</a></p><p>This link expires in %d minutes. If you did not request it, you can ignore this message.</p>",
		name, link, s.cfg.TokenTTLMinutes,
	)
	textBody = fmt.Sprintf(
		"Hi %s,\n\nOpen the link below to verify your email address:\n\n%s\n\nThis link expires in %d minutes. If you did not request it, you can ignore this message.\n",
		name, link, s.cfg.TokenTTLMinutes,
	)
	return subject, htmlBody, textBody
}
