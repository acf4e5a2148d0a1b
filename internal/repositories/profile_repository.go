package repositories

import (
	"strings"

	"github.com/anonto42/nearme/backend/internal/models"
	"gorm.io/gorm"
)

// ProfileRepository defines the interface for profile data operations
type ProfileRepository interface {
	CreateProfile(profile *models.Profile) error
	GetProfileByUID(uid string) (*models.Profile, error)
	GetProfileByEmail(email string) (*models.Profile, error)
	GetProfilesByUIDs(uids []string) ([]models.Profile, error)
	UpdateProfile(profile *models.Profile) error
	DeleteProfile(uid string) error
	SearchProfiles(query string, limit int) ([]models.Profile, error)
}

// PostgresProfileRepository implements ProfileRepository for PostgreSQL
type PostgresProfileRepository struct {
	db *gorm.DB
}

// NewPostgresProfileRepository creates a new PostgresProfileRepository
func NewPostgresProfileRepository(db *gorm.DB) *PostgresProfileRepository {
	return &PostgresProfileRepository{db: db}
}

func (r *PostgresProfileRepository) CreateProfile(profile *models.Profile) error {
	profile.Email = strings.ToLower(profile.Email)
	return r.db.Create(profile).Error
}

// GetProfileByUID returns gorm.ErrRecordNotFound when there is no such profile
func (r *PostgresProfileRepository) GetProfileByUID(uid string) (*models.Profile, error) {
	var profile models.Profile
	if err := r.db.Where("uid = ?", uid).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *PostgresProfileRepository) GetProfileByEmail(email string) (*models.Profile, error) {
	var profile models.Profile
	if err := r.db.Where("email = ?", strings.ToLower(email)).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetProfilesByUIDs returns the profiles that exist; missing uids are skipped.
func (r *PostgresProfileRepository) GetProfilesByUIDs(uids []string) ([]models.Profile, error) {
	var profiles []models.Profile
	if len(uids) == 0 {
		return profiles, nil
	}
	if err := r.db.Where("uid IN ?", uids).Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}

func (r *PostgresProfileRepository) UpdateProfile(profile *models.Profile) error {
	return r.db.Save(profile).Error
}

func (r *PostgresProfileRepository) DeleteProfile(uid string) error {
	res := r.db.Where("uid = ?", uid).Delete(&models.Profile{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SearchProfiles searches by display name or email (case-insensitive)
func (r *PostgresProfileRepository) SearchProfiles(query string, limit int) ([]models.Profile, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	pattern := "%" + strings.ToLower(query) + "%"
	var profiles []models.Profile
	if err := r.db.Where("LOWER(display_name) LIKE ? OR LOWER(email) LIKE ?", pattern, pattern).
		Order("display_name").
		Limit(limit).
		Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}
