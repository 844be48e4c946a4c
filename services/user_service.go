package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ShahidDS/game-time-tracker/models"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const avatarBaseURL = "https://api.dicebear.com/9.x/lorelei/svg?seed="

type UserService struct {
	db          *gorm.DB
	leaderboard *Leaderboard
	validate    *validator.Validate
	log         *slog.Logger
	observers   []TotalsObserver
}

func NewUserService(db *gorm.DB, leaderboard *Leaderboard, log *slog.Logger, observers ...TotalsObserver) *UserService {
	return &UserService{
		db:          db,
		leaderboard: leaderboard,
		validate:    NewValidator(),
		log:         log,
		observers:   observers,
	}
}

type CreateUserRequest struct {
	FirstName    string `json:"firstName" binding:"required" validate:"required,max=100"`
	LastName     string `json:"lastName" binding:"required" validate:"required,max=100"`
	Email        string `json:"email" binding:"required,email" validate:"required,email"`
	ProfileImage string `json:"profileImage" validate:"omitempty,url"`
}

// UpdateUserRequest applies only the fields that are present.
type UpdateUserRequest struct {
	FirstName    *string `json:"firstName" validate:"omitempty,min=1,max=100"`
	LastName     *string `json:"lastName" validate:"omitempty,min=1,max=100"`
	Email        *string `json:"email" validate:"omitempty,email"`
	ProfileImage *string `json:"profileImage" validate:"omitempty,url"`
}

// DefaultAvatar builds the generated avatar used when no image is supplied.
func DefaultAvatar(email string) string {
	return avatarBaseURL + url.QueryEscape(email)
}

func (s *UserService) ListUsers(ctx context.Context, search string) ([]models.User, error) {
	query := s.db.WithContext(ctx).Order("id")
	if term := strings.ToLower(strings.TrimSpace(search)); term != "" {
		like := "%" + term + "%"
		query = query.Where("LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(email) LIKE ?", like, like, like)
	}

	var users []models.User
	if err := query.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (s *UserService) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("User")
		}
		return nil, err
	}
	return &user, nil
}

func (s *UserService) CreateUser(ctx context.Context, req *CreateUserRequest) (*models.User, error) {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.ProfileImage = strings.TrimSpace(req.ProfileImage)
	if err := s.check(req); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	if err := s.ensureEmailFree(db, req.Email, 0); err != nil {
		return nil, err
	}

	user := models.User{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		ProfileImage: req.ProfileImage,
	}
	if user.ProfileImage == "" {
		user.ProfileImage = DefaultAvatar(user.Email)
	}

	if err := db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, invalid("email", "is already in use")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.Info("user_created", slog.Uint64("user_id", uint64(user.ID)))
	return &user, nil
}

func (s *UserService) UpdateUser(ctx context.Context, id uint, req *UpdateUserRequest) (*models.User, error) {
	trim := func(p *string) {
		if p != nil {
			*p = strings.TrimSpace(*p)
		}
	}
	trim(req.FirstName)
	trim(req.LastName)
	trim(req.ProfileImage)
	if req.Email != nil {
		lowered := strings.ToLower(strings.TrimSpace(*req.Email))
		req.Email = &lowered
	}
	if req.FirstName != nil && *req.FirstName == "" {
		return nil, invalid("firstName", "must not be empty")
	}
	if req.LastName != nil && *req.LastName == "" {
		return nil, invalid("lastName", "must not be empty")
	}
	if req.Email != nil && *req.Email == "" {
		return nil, invalid("email", "must not be empty")
	}
	if err := s.check(req); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.FirstName != nil {
		updates["first_name"] = *req.FirstName
	}
	if req.LastName != nil {
		updates["last_name"] = *req.LastName
	}
	if req.Email != nil && *req.Email != user.Email {
		if err := s.ensureEmailFree(db, *req.Email, user.ID); err != nil {
			return nil, err
		}
		updates["email"] = *req.Email
	}
	if req.ProfileImage != nil {
		image := *req.ProfileImage
		if image == "" {
			email := user.Email
			if req.Email != nil {
				email = *req.Email
			}
			image = DefaultAvatar(email)
		}
		updates["profile_image"] = image
	}

	if len(updates) > 0 {
		if err := db.Model(user).Updates(updates).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, invalid("email", "is already in use")
			}
			return nil, fmt.Errorf("update user: %w", err)
		}
	}

	return s.GetUser(ctx, id)
}

// DeleteUser removes the user with their sessions and day buckets, and
// takes their minutes back off every game they played.
func (s *UserService) DeleteUser(ctx context.Context, id uint) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := requireRow(tx, &models.User{}, id, "User"); err != nil {
		tx.Rollback()
		return err
	}

	var perGame []groupedMinutes
	if err := tx.Model(&models.PlaySession{}).
		Select("game_id AS group_id, SUM(minutes_played) AS minutes").
		Where("user_id = ?", id).
		Group("game_id").
		Scan(&perGame).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("group user sessions: %w", err)
	}

	gameIDs := make([]uint, 0, len(perGame))
	for _, g := range perGame {
		gameIDs = append(gameIDs, g.GroupID)
		if err := tx.Model(&models.Game{}).
			Where("id = ?", g.GroupID).
			UpdateColumn("total_minutes_played", gorm.Expr("total_minutes_played - ?", g.Minutes)).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("update game total: %w", err)
		}
	}

	if err := tx.Where("user_id = ?", id).Delete(&models.PlaySession{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("delete user sessions: %w", err)
	}
	if err := tx.Where("user_id = ?", id).Delete(&models.UserStats{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("delete user stats: %w", err)
	}
	if err := tx.Delete(&models.User{}, id).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("delete user: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("commit user delete: %w", err)
	}

	s.leaderboard.RemoveUser(ctx, id, gameIDs)
	if len(gameIDs) > 0 {
		for _, o := range s.observers {
			o.TotalsChanged(ctx)
		}
	}
	s.log.Info("user_deleted", slog.Uint64("user_id", uint64(id)), slog.Int("games_touched", len(gameIDs)))
	return nil
}

func (s *UserService) ensureEmailFree(db *gorm.DB, email string, exceptID uint) error {
	var count int64
	query := db.Model(&models.User{}).Where("LOWER(email) = ?", email)
	if exceptID != 0 {
		query = query.Where("id <> ?", exceptID)
	}
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if count > 0 {
		return invalid("email", "is already in use")
	}
	return nil
}

func (s *UserService) check(req interface{}) error {
	return validationFailure(s.validate.Struct(req))
}

// validationFailure converts the first validator failure into a ValidationError.
func validationFailure(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return invalid(fe.Field(), describeTag(fe))
	}
	return err
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "is invalid"
	}
}
