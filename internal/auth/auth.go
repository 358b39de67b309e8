// Package auth registers users and checks their credentials. Passwords are
// stored as salted bcrypt hashes; the plaintext never reaches the user store.
package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"rasp/internal/storage"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrEmailExists is returned by Register when the email is already taken.
	ErrEmailExists = errors.New("email already exists")

	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrMissingFields is returned when email or password is empty.
	ErrMissingFields = errors.New("email and password are required")
)

// UserStore is the persistence the service needs. AddUser must fail with
// storage.ErrUserExists when the email is taken.
type UserStore interface {
	FindUser(email string) (storage.UserRecord, bool, error)
	AddUser(u storage.UserRecord) error
}

// Metrics defines the metrics methods the service reports to.
type Metrics interface {
	RegistrationInc()
	LoginObserve(ok bool)
}

// User is the public view of an account.
type User struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Service struct {
	store     UserStore
	cost      int
	metrics   Metrics
	now       func() time.Time
	dummyHash []byte
}

// NewService creates an account service. A cost of zero uses bcrypt.DefaultCost.
func NewService(store UserStore, cost int, metrics Metrics) *Service {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword(passwordKey("rasp-unknown-user"), cost)
	return &Service{store: store, cost: cost, metrics: metrics, now: time.Now, dummyHash: dummy}
}

// passwordKey is what bcrypt sees: the base64 SHA-256 of the password. It keeps
// every input under bcrypt's 72 byte limit without truncating long passwords.
func passwordKey(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	key := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(key, sum[:])
	return key
}

// NormalizeEmail is the form emails are stored and looked up under.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account.
func (s *Service) Register(name, email, password string) error {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return ErrMissingFields
	}

	hash, err := bcrypt.GenerateFromPassword(passwordKey(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	err = s.store.AddUser(storage.UserRecord{
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	})
	if errors.Is(err, storage.ErrUserExists) {
		log.Info().Str("email", email).Msg("Registration rejected, email exists")
		return ErrEmailExists
	}
	if err != nil {
		return fmt.Errorf("store user: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RegistrationInc()
	}
	log.Info().Str("email", email).Msg("User registered")
	return nil
}

// VerifyCredentials reports whether password matches the account for email.
// Store failures are returned as errors, not as a false result.
func (s *Service) VerifyCredentials(email, password string) (bool, error) {
	_, err := s.Login(email, password)
	if errors.Is(err, ErrInvalidCredentials) {
		return false, nil
	}
	return err == nil, err
}

// Login returns the account for valid credentials and ErrInvalidCredentials otherwise.
func (s *Service) Login(email, password string) (User, error) {
	email = NormalizeEmail(email)

	u, err := s.login(email, password)
	if err != nil && !errors.Is(err, ErrInvalidCredentials) {
		log.Error().Err(err).Str("email", email).Msg("Login failed")
		return User{}, err
	}

	if s.metrics != nil {
		s.metrics.LoginObserve(err == nil)
	}
	if err != nil {
		log.Info().Str("email", email).Msg("Login rejected")
		return User{}, err
	}
	return u, nil
}

func (s *Service) login(email, password string) (User, error) {
	if email == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	rec, found, err := s.store.FindUser(email)
	if err != nil {
		return User{}, fmt.Errorf("find user: %w", err)
	}
	if !found {
		// Unknown emails still pay for one comparison.
		bcrypt.CompareHashAndPassword(s.dummyHash, passwordKey(password))
		return User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), passwordKey(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return User{Name: rec.Name, Email: rec.Email}, nil
}

