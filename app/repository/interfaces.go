package repository

import "github.com/replyhub/replyhub/app/models"

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// OrganizationRepository defines read operations for tenant organizations.
// The billing subsystem never mutates organizations.
type OrganizationRepository interface {
	GetByID(id uint) (*models.Organization, error)
	GetBySlug(slug string) (*models.Organization, error)
	List(offset, limit int) ([]models.Organization, error)
	Count() (int64, error)
}

// Repositories bundles all repository implementations
type Repositories struct {
	User         UserRepository
	Organization OrganizationRepository
}
