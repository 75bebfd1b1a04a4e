package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"cardsmith/internal"
	"cardsmith/internal/config"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserExists         = errors.New("username already exists")
	ErrMissingCredentials = errors.New("username and password are required")
)

// UserRepository is the persistence the service needs. storage.DB satisfies it.
type UserRepository interface {
	FindByUsername(username string) (*internal.User, error)
	CreateUser(username, passwordHash string) (internal.User, error)
}

type Session struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
	User      internal.User `json:"-"`
}

type Service struct {
	users  UserRepository
	signer *Signer
	cost   int
	log    *slog.Logger
}

func NewService(users UserRepository, cfg config.Config) (*Service, error) {
	if err := cfg.Require("TOKEN_SECRET", cfg.TokenSecret); err != nil {
		return nil, err
	}
	return &Service{
		users:  users,
		signer: NewSigner(cfg.TokenSecret, cfg.TokenTTL),
		cost:   bcrypt.DefaultCost,
		log:    slog.Default(),
	}, nil
}

func (s *Service) Register(username, password string) (internal.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return internal.User{}, ErrMissingCredentials
	}

	existing, err := s.users.FindByUsername(username)
	if err != nil {
		return internal.User{}, err
	}
	if existing != nil {
		return internal.User{}, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return internal.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.CreateUser(username, string(hash))
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return internal.User{}, ErrUserExists
		}
		return internal.User{}, err
	}
	s.log.Info("auth.register", "user_id", user.ID)
	return user, nil
}

// Login checks the credentials and issues a token. Unknown users and wrong
// passwords produce the same error.
func (s *Service) Login(username, password string) (Session, error) {
	user, err := s.users.FindByUsername(strings.TrimSpace(username))
	if err != nil {
		return Session{}, err
	}
	if user == nil {
		return Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.log.Warn("auth.login.rejected", "user_id", user.ID)
		return Session{}, ErrInvalidCredentials
	}

	token, expiresAt := s.signer.Issue(user.ID)
	s.log.Info("auth.login", "user_id", user.ID)
	return Session{Token: token, ExpiresAt: expiresAt, User: *user}, nil
}

func (s *Service) Verify(token string) (int, error) {
	return s.signer.Verify(token)
}
