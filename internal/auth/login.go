package auth

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/punchamoorthee/hostelpay/internal/clock"
	"github.com/punchamoorthee/hostelpay/internal/domain"
	"github.com/punchamoorthee/hostelpay/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// CredentialStore looks up the accounts that can log in.
type CredentialStore interface {
	GetAdmin(ctx context.Context, username string) (*domain.AdminUser, error)
	GetStudent(ctx context.Context, studentID string) (*domain.Student, error)
}

type LoginService struct {
	store  CredentialStore
	signer *JWTSigner
	clock  clock.Clock
}

func NewLoginService(s CredentialStore, signer *JWTSigner, clk clock.Clock) *LoginService {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &LoginService{store: s, signer: signer, clock: clk}
}

func (l *LoginService) AdminLogin(ctx context.Context, username, password string) (string, error) {
	admin, err := l.store.GetAdmin(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if !CheckPassword(admin.PasswordHash, password) {
		return "", ErrInvalidCredentials
	}
	tok, _, err := l.signer.SignActor(Actor{ID: admin.Username, Role: RoleAdmin}, l.clock.Now())
	return tok, err
}

// StudentLogin accepts the student's own password, or, while none is set,
// the student id itself.
func (l *LoginService) StudentLogin(ctx context.Context, studentID, password string) (string, error) {
	st, err := l.store.GetStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if st.PasswordHash == "" {
		if subtle.ConstantTimeCompare([]byte(password), []byte(st.StudentID)) != 1 {
			return "", ErrInvalidCredentials
		}
	} else if !CheckPassword(st.PasswordHash, password) {
		return "", ErrInvalidCredentials
	}
	tok, _, err := l.signer.SignActor(Actor{ID: st.StudentID, Role: RoleStudent}, l.clock.Now())
	return tok, err
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
