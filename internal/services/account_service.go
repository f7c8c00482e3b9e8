package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/threatwatch/threatwatch/internal/authz"
	"github.com/threatwatch/threatwatch/internal/database"
)

const (
	generatedUsernamePrefix = "analyst_"
	maxUsernameLength       = 150
	generatedPasswordBytes  = 12 // 16 URL-safe characters
	maxGenerateAttempts     = 5
)

// ErrInvalidCredentials is returned by Authenticate for any login failure
var ErrInvalidCredentials = errors.New("invalid username or password")

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9@.+_-]+$`)

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares a password with a hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// PasswordPolicy is the deployment's password strength rule
type PasswordPolicy struct {
	MinLength int
}

// Validate returns a validation error describing the first unmet rule
func (p PasswordPolicy) Validate(password string) error {
	if utf8.RuneCountInString(password) < p.MinLength {
		return FieldError("password", fmt.Sprintf("must be at least %d characters", p.MinLength))
	}
	numeric := true
	for _, r := range password {
		if !unicode.IsDigit(r) {
			numeric = false
			break
		}
	}
	if numeric {
		return FieldError("password", "must not be entirely numeric")
	}
	return nil
}

// ProvisionInput carries optional credentials for a new analyst
type ProvisionInput struct {
	Username string
	Password string
}

// ProvisionedAccount is returned exactly once; Password is the plaintext
type ProvisionedAccount struct {
	User     *database.User
	Password string
}

// AccountService manages user accounts
type AccountService struct {
	db     *gorm.DB
	policy PasswordPolicy
	log    *zap.Logger
}

// NewAccountService creates a new AccountService
func NewAccountService(db *gorm.DB, policy PasswordPolicy, log *zap.Logger) *AccountService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountService{db: db, policy: policy, log: log.Named("accounts")}
}

// ProvisionAnalyst creates an ANALYST account, generating whatever
// credentials were not supplied. The plaintext password is only in the result.
func (s *AccountService) ProvisionAnalyst(ctx context.Context, actor authz.Identity, in ProvisionInput) (*ProvisionedAccount, error) {
	username := strings.TrimSpace(in.Username)
	if username != "" {
		if err := validateUsername(username); err != nil {
			return nil, err
		}
	}

	password := in.Password
	if password != "" {
		if err := s.policy.Validate(password); err != nil {
			return nil, err
		}
	} else {
		generated, err := s.generatePassword()
		if err != nil {
			return nil, err
		}
		password = generated
	}

	if username == "" {
		generated, err := s.generateUsername(ctx)
		if err != nil {
			return nil, err
		}
		username = generated
	} else if taken, err := s.usernameTaken(ctx, username); err != nil {
		return nil, err
	} else if taken {
		return nil, ConflictError("Username already exists. Choose a different username.")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &database.User{
		Username:     username,
		PasswordHash: hash,
		Role:         authz.RoleAnalyst,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ConflictError("Username already exists. Choose a different username.")
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.log.Info("Analyst account provisioned",
		zap.Uint("user_id", user.ID),
		zap.String("username", user.Username),
		zap.String("actor", actor.Username),
	)
	return &ProvisionedAccount{User: user, Password: password}, nil
}

// Get returns an account by username
func (s *AccountService) Get(ctx context.Context, username string) (*database.User, error) {
	var user database.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundError("Account")
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &user, nil
}

// LoadIdentity resolves a token subject to the current state of its account
func (s *AccountService) LoadIdentity(ctx context.Context, username string) (*authz.Identity, error) {
	user, err := s.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	id := user.Identity()
	return &id, nil
}

// UpdateRole changes the role of an account
func (s *AccountService) UpdateRole(ctx context.Context, actor authz.Identity, username, rawRole string) (*database.User, error) {
	role, ok := authz.ParseRole(rawRole)
	if !ok {
		return nil, FieldError("role", "must be one of ADMIN, ANALYST")
	}

	var user database.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("username = ?", username).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NotFoundError("Account")
			}
			return err
		}
		previous := user.Role
		if err := tx.Model(&user).Update("role", role).Error; err != nil {
			return err
		}
		s.log.Info("Account role updated",
			zap.String("username", user.Username),
			zap.String("from_role", string(previous)),
			zap.String("to_role", string(role)),
			zap.String("actor", actor.Username),
		)
		return nil
	})
	if err != nil {
		if _, ok := AsError(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	return &user, nil
}

// Authenticate checks credentials. Unknown users and wrong passwords are
// indistinguishable to the caller.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (*database.User, error) {
	var user database.User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if !CheckPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

func (s *AccountService) usernameTaken(ctx context.Context, username string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&database.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return count > 0, nil
}

func (s *AccountService) generateUsername(ctx context.Context) (string, error) {
	for i := 0; i < maxGenerateAttempts; i++ {
		username, err := GenerateUsername()
		if err != nil {
			return "", err
		}
		taken, err := s.usernameTaken(ctx, username)
		if err != nil {
			return "", err
		}
		if !taken {
			return username, nil
		}
	}
	return "", ConflictError("Could not generate a unique username. Try again.")
}

func (s *AccountService) generatePassword() (string, error) {
	for i := 0; i < maxGenerateAttempts; i++ {
		password, err := GeneratePassword()
		if err != nil {
			return "", err
		}
		if s.policy.Validate(password) == nil {
			return password, nil
		}
	}
	return "", fmt.Errorf("failed to generate a password satisfying the policy")
}

// GenerateUsername returns analyst_ followed by 6 random hex characters
func GenerateUsername() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate username: %w", err)
	}
	return generatedUsernamePrefix + hex.EncodeToString(b), nil
}

// GeneratePassword returns 16 random URL-safe characters
func GeneratePassword() (string, error) {
	b := make([]byte, generatedPasswordBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func validateUsername(username string) error {
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return FieldError("username", fmt.Sprintf("must be at most %d characters", maxUsernameLength))
	}
	if !usernamePattern.MatchString(username) {
		return FieldError("username", "may contain only letters, digits and @/./+/-/_")
	}
	return nil
}
