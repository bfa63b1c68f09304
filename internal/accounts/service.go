// Package accounts implements registration, email verification and login.
//
// A user moves from pending verification to verified exactly once. Login is
// refused until then. Verification emails are sent off the request path and
// their failure never fails a registration.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vexekhach/internal/mailer"
	"vexekhach/internal/metrics"
	"vexekhach/internal/models"
	"vexekhach/internal/store"
	"vexekhach/internal/utils"
	"vexekhach/internal/validators"
)

const (
	DefaultVerificationTTL = 24 * time.Hour
	DefaultEmailTimeout    = 10 * time.Second

	TokenTypeBearer = "bearer"
)

type Options struct {
	VerificationTTL time.Duration
	EmailTimeout    time.Duration
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

type Service struct {
	users    store.UserRepository
	notifier mailer.Notifier
	issuer   *utils.Issuer
	log      logrus.FieldLogger
	metrics  *metrics.Metrics

	verificationTTL time.Duration
	emailTimeout    time.Duration
	now             func() time.Time

	wg sync.WaitGroup

	dummyOnce sync.Once
	dummyHash string
}

func NewService(users store.UserRepository, n mailer.Notifier, issuer *utils.Issuer, log logrus.FieldLogger, opts Options) *Service {
	s := &Service{
		users:           users,
		notifier:        n,
		issuer:          issuer,
		log:             log,
		metrics:         opts.Metrics,
		verificationTTL: opts.VerificationTTL,
		emailTimeout:    opts.EmailTimeout,
		now:             opts.Now,
	}
	if s.verificationTTL <= 0 {
		s.verificationTTL = DefaultVerificationTTL
	}
	if s.emailTimeout <= 0 {
		s.emailTimeout = DefaultEmailTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResult struct {
	AccessToken string            `json:"access_token"`
	TokenType   string            `json:"token_type"`
	User        models.PublicUser `json:"user"`
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	u, err := s.register(ctx, in)
	s.metrics.AccountEvent("register", outcome(err))
	return u, err
}

func (s *Service) register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if err := validators.ValidateUsername(in.Username); err != nil {
		return nil, invalid(err)
	}
	if err := validators.ValidatePassword(in.Password); err != nil {
		return nil, invalid(err)
	}
	if err := validators.ValidateEmail(in.Email); err != nil {
		return nil, invalid(err)
	}

	existing, err := s.users.FindByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil {
		return nil, fmt.Errorf("lookup existing users: %w", err)
	}
	for _, u := range existing {
		if u.Email == in.Email {
			return nil, ErrDuplicateEmail
		}
	}
	for _, u := range existing {
		if u.Username == in.Username {
			return nil, ErrDuplicateUsername
		}
	}

	token, err := utils.RandomTokenURLSafe(utils.VerificationTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}
	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	expires := now.Add(s.verificationTTL)
	created, err := s.users.Create(ctx, &models.User{
		Username:                 in.Username,
		Email:                    in.Email,
		HashedPassword:           hash,
		IsEmailVerified:          false,
		VerificationToken:        &token,
		VerificationTokenExpires: &expires,
		CreatedAt:                now,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDuplicateAccount
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.WithFields(logrus.Fields{"user_id": created.ID, "email": created.Email}).Info("user registered")
	s.sendVerification(ctx, created.Email, token)
	return created, nil
}

// sendVerification delivers the email in the background with its own
// deadline. The request context's values are kept but not its cancellation.
func (s *Service) sendVerification(ctx context.Context, to, token string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.emailTimeout)
		defer cancel()

		if err := s.notifier.SendVerification(ctx, to, token); err != nil {
			s.metrics.EmailSend(metrics.OutcomeFailed)
			s.log.WithFields(logrus.Fields{"email": to, "error": err}).Error("failed to send verification email")
			return
		}
		s.metrics.EmailSend(metrics.OutcomeOK)
		s.log.WithField("email", to).Info("verification email sent")
	}()
}

// Wait blocks until every background email send has finished.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) VerifyEmail(ctx context.Context, token string) (*models.User, error) {
	u, err := s.verifyEmail(ctx, token)
	s.metrics.AccountEvent("verify_email", outcome(err))
	return u, err
}

func (s *Service) verifyEmail(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrInvalidOrExpiredToken
	}
	u, err := s.users.ConsumeVerificationToken(ctx, token, s.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("consume verification token: %w", err)
	}
	s.log.WithFields(logrus.Fields{"user_id": u.ID, "email": u.Email}).Info("email verified")
	return u, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	res, err := s.login(ctx, email, password)
	s.metrics.AccountEvent("login", outcome(err))
	return res, err
}

func (s *Service) login(ctx context.Context, email, password string) (*LoginResult, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Spend the same bcrypt work as a real comparison.
			utils.CheckPassword(password, s.dummy())
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if u.HashedPassword == "" {
		s.log.WithField("user_id", u.ID).Error("user record has no password hash")
		return nil, ErrAccountData
	}
	if !utils.CheckPassword(password, u.HashedPassword) {
		return nil, ErrInvalidCredentials
	}
	if !u.IsEmailVerified {
		return nil, ErrEmailNotVerified
	}

	tok, err := s.issuer.Issue(u.ID)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}
	return &LoginResult{AccessToken: tok, TokenType: TokenTypeBearer, User: u.Public()}, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = utils.HashPassword("dummy-password-for-timing")
	})
	return s.dummyHash
}

// Profile returns the user behind an authenticated session.
func (s *Service) Profile(ctx context.Context, id string) (*models.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidID) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func outcome(err error) string {
	if err != nil {
		return metrics.OutcomeFailed
	}
	return metrics.OutcomeOK
}
