// Package user はユーザーの登録・参照とフィード用トークンの発行を提供する。
package user

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/chirp/internal/activity"
	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/repository"
)

const maxNameLength = 50

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,30}$`)

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Name     string
	Email    string
	Username string
	Image    string
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo repository.UserRepository
	tokens   activity.TokenIssuer
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, tokens activity.TokenIssuer, logger *slog.Logger) *Service {
	return &Service{
		userRepo: userRepo,
		tokens:   tokens,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Register はユーザーを登録する。IDはUUIDで採番し、フィードのactor IDとしても使用する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if err := validate(in); err != nil {
		return nil, err
	}

	existing, err := s.userRepo.FindByUsername(ctx, in.Username)
	if err != nil {
		return nil, model.NewStoreError(err)
	}
	if existing != nil {
		return nil, model.NewUsernameTakenError(in.Username)
	}

	user := &model.User{
		ID:        s.newID(),
		Name:      in.Name,
		Email:     in.Email,
		Username:  in.Username,
		Image:     in.Image,
		CreatedAt: s.now(),
	}
	err = s.userRepo.Create(ctx, user)
	switch {
	case errors.Is(err, repository.ErrDuplicateEmail):
		return nil, model.NewEmailTakenError()
	case errors.Is(err, repository.ErrDuplicate):
		return nil, model.NewUsernameTakenError(in.Username)
	}
	if err != nil {
		return nil, model.NewStoreError(err)
	}

	s.logger.Info("ユーザーを登録しました",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// Get はIDでユーザーを取得する。
func (s *Service) Get(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewStoreError(err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(id)
	}
	return user, nil
}

// GetByUsername はユーザー名でユーザーを取得する。
func (s *Service) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, model.NewStoreError(err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(username)
	}
	return user, nil
}

// FeedToken はクライアントがフィードを直接購読するためのユーザートークンを発行する。
func (s *Service) FeedToken(ctx context.Context, userID string) (string, error) {
	if _, err := s.Get(ctx, userID); err != nil {
		return "", err
	}
	token, err := s.tokens.UserToken(userID)
	if err != nil {
		return "", model.NewUnknownError(err)
	}
	return token, nil
}

func validate(in RegisterInput) error {
	if in.Name == "" || utf8.RuneCountInString(in.Name) > maxNameLength {
		return model.NewInvalidInputError("name must be 1 to 50 characters")
	}
	if !usernamePattern.MatchString(in.Username) {
		return model.NewInvalidInputError("username must be 1 to 30 letters, digits or underscores")
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return model.NewInvalidInputError("email is invalid")
	}
	return nil
}
