// Package user is the account aggregate. Registration records
// UserRegisteredEvent for the outbox.
package user

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/md-rashed-zaman/groupchat/libs/events"
)

const (
	Exchange = "auth-events"

	MaxEmailLength    = 254
	MaxNickNameLength = 30
	MinPasswordLength = 6
	MaxPasswordLength = 100
)

var (
	ErrInvalid            = errors.New("user: invalid input")
	ErrNotFound           = errors.New("user: not found")
	ErrEmailTaken         = errors.New("user: email already registered")
	ErrNickNameTaken      = errors.New("user: nickname already taken")
	ErrInvalidCredentials = errors.New("user: invalid credentials")
)

var (
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	nickNamePattern = regexp.MustCompile(`^[\p{L}0-9_-]+$`)
)

type UserRegisteredEvent struct {
	events.Base
	UserID       uuid.UUID `json:"userId"`
	Email        string    `json:"email"`
	NickName     string    `json:"nickName"`
	RegisteredAt time.Time `json:"registeredAt"`
}

func (UserRegisteredEvent) EventType() string { return "UserRegisteredEvent" }

type User struct {
	events.Buffer

	ID           uuid.UUID
	Email        string
	NickName     string
	PasswordHash string
	CreatedAt    time.Time
}

// Register validates the input, hashes the password and records
// UserRegisteredEvent. Emails are stored lower-cased.
func Register(now time.Time, email, nickName, password string) (*User, error) {
	email = NormalizeEmail(email)
	nickName = strings.TrimSpace(nickName)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validateNickName(nickName); err != nil {
		return nil, err
	}
	if n := utf8.RuneCountInString(password); n < MinPasswordLength || n > MaxPasswordLength {
		return nil, fmt.Errorf("%w: password must be %d to %d characters", ErrInvalid, MinPasswordLength, MaxPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now = now.UTC()
	u := &User{ID: uuid.New(), Email: email, NickName: nickName, PasswordHash: string(hash), CreatedAt: now}
	u.Record(UserRegisteredEvent{Base: events.NewBase(now), UserID: u.ID, Email: email, NickName: nickName, RegisteredAt: now})
	return u, nil
}

func (u *User) VerifyPassword(password string) error {
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	switch {
	case email == "":
		return fmt.Errorf("%w: email is required", ErrInvalid)
	case len(email) > MaxEmailLength:
		return fmt.Errorf("%w: email exceeds %d characters", ErrInvalid, MaxEmailLength)
	case !emailPattern.MatchString(email):
		return fmt.Errorf("%w: email is not valid", ErrInvalid)
	}
	return nil
}

func validateNickName(nick string) error {
	switch {
	case nick == "":
		return fmt.Errorf("%w: nickname is required", ErrInvalid)
	case utf8.RuneCountInString(nick) > MaxNickNameLength:
		return fmt.Errorf("%w: nickname exceeds %d characters", ErrInvalid, MaxNickNameLength)
	case !nickNamePattern.MatchString(nick):
		return fmt.Errorf("%w: nickname may only contain letters, digits, underscores and hyphens", ErrInvalid)
	case strings.HasPrefix(nick, "-"), strings.HasPrefix(nick, "_"),
		strings.HasSuffix(nick, "-"), strings.HasSuffix(nick, "_"):
		return fmt.Errorf("%w: nickname cannot start or end with a hyphen or underscore", ErrInvalid)
	}
	return nil
}
