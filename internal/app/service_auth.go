package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hoonjeong/menualic/internal/auth"
	"github.com/hoonjeong/menualic/internal/authpw"
	"github.com/hoonjeong/menualic/internal/store"
)

// passwordError converts authpw errors to API errors.
func passwordError(err error) error {
	switch {
	case errors.Is(err, authpw.ErrInvalidInput):
		return errValidation(strings.TrimPrefix(err.Error(), authpw.ErrInvalidInput.Error()+": "), nil)
	case errors.Is(err, authpw.ErrEmailExists):
		return domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	case errors.Is(err, authpw.ErrInvalidResetToken):
		return errBadRequest("INVALID_RESET_TOKEN", "Invalid or expired reset token")
	default:
		return err
	}
}

func (s *Service) SignUp(ctx context.Context, emailAddr, password, name string) (map[string]any, error) {
	user, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{Email: emailAddr, Password: password, Name: name})
	if err != nil {
		return nil, passwordError(err)
	}
	return map[string]any{"user": userPayload(user)}, nil
}

// Login verifies credentials and issues a new session token.
func (s *Service) Login(ctx context.Context, emailAddr, password string) (Session, store.User, error) {
	user, err := s.passwords.SignIn(ctx, emailAddr, password)
	if err != nil {
		return Session{}, store.User{}, passwordError(err)
	}
	sess, err := s.issueSession(user)
	if err != nil {
		return Session{}, store.User{}, err
	}
	return sess, user, nil
}

func (s *Service) issueSession(user store.User) (Session, error) {
	now := s.now()
	jti := s.newID()
	expiresAt := now.Add(s.cfg.SessionTTL)

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	}, s.cfg.SessionTTL)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		JTI:       jti,
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// SessionFromToken validates a token: signature and expiry, then the jti
// blacklist, then the user's revocation cutoff, then that the user exists.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	var issuedAt time.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	cutoff, err := s.sessions.UserCutoff(ctx, claims.UserID)
	if err != nil {
		return Session{}, err
	}
	if !cutoff.IsZero() && issuedAt.Before(cutoff) {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		JTI:       claims.ID,
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		IssuedAt:  issuedAt,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout blacklists the session's jti until the token would have expired.
func (s *Service) Logout(ctx context.Context, sess Session) error {
	if sess.JTI == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, sess.JTI, sess.ExpiresAt)
}

// revokeUserSessions rejects every token the user was issued before now.
// JWT timestamps have second precision, so the cutoff is truncated. The
// password is already saved when this runs, so a blacklist failure is
// logged rather than reported to the caller.
func (s *Service) revokeUserSessions(ctx context.Context, userID string) {
	if err := s.sessions.RevokeUser(ctx, userID, s.now().Truncate(time.Second)); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("revoke sessions after password change")
	}
}

func (s *Service) GetProfile(ctx context.Context, sess Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"user": userPayload(user)}, nil
}

func (s *Service) UpdateProfile(ctx context.Context, sess Session, name, image *string) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	nextName, nextImage := user.Name, user.Image
	if name != nil {
		nextName = strings.TrimSpace(*name)
		if nextName == "" {
			return nil, errValidation("name is required", nil)
		}
		if len([]rune(nextName)) > 100 {
			return nil, errValidation("name must be at most 100 characters", nil)
		}
	}
	if image != nil {
		nextImage = strings.TrimSpace(*image)
	}
	updated, err := s.store.UpdateUserProfile(ctx, sess.UserID, nextName, nextImage)
	if err != nil {
		return nil, err
	}
	return map[string]any{"user": userPayload(updated)}, nil
}

func (s *Service) ChangePassword(ctx context.Context, sess Session, currentPassword, newPassword string) error {
	if err := s.passwords.ChangePassword(ctx, sess.UserID, currentPassword, newPassword); err != nil {
		return passwordError(err)
	}
	s.revokeUserSessions(ctx, sess.UserID)
	return nil
}

// ForgotPassword creates a reset token and mails it. The returned token is
// only non-empty when SMTP is not configured, for local development.
func (s *Service) ForgotPassword(ctx context.Context, emailAddr string) (string, error) {
	token, user, err := s.passwords.RequestPasswordReset(ctx, emailAddr)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}
	if !s.mailer.IsConfigured() {
		return token, nil
	}
	resetURL := strings.TrimRight(s.cfg.BaseURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
	if err := s.mailer.SendPasswordResetEmail(user.Email, user.Name, resetURL); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("send password reset email")
	}
	return "", nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	userID, err := s.passwords.ResetPassword(ctx, token, newPassword)
	if err != nil {
		return passwordError(err)
	}
	s.revokeUserSessions(ctx, userID)
	return nil
}
