package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modavn/storefront/internal/db"
	"github.com/modavn/storefront/internal/metrics"
	"github.com/modavn/storefront/internal/models"
)

// UserService handles user-related operations
type UserService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewUserService creates a new user service
func NewUserService(db *db.DB, metrics *metrics.AppMetrics) *UserService {
	return &UserService{
		db:      db,
		metrics: metrics,
	}
}

const userColumns = "id, email, name, phone, addresses, favorites, created_at, updated_at"

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	var u models.User
	var addressesRaw, favoritesRaw []byte
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Phone, &addressesRaw, &favoritesRaw, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(addressesRaw, &u.Addresses); err != nil {
		return nil, fmt.Errorf("failed to decode user addresses: %w", err)
	}
	if err := unmarshalJSONColumn(favoritesRaw, &u.Favorites); err != nil {
		return nil, fmt.Errorf("failed to decode user favorites: %w", err)
	}
	return &u, nil
}

// GetUser returns a user by ID
func (s *UserService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	start := time.Now()
	query := "SELECT " + userColumns + " FROM users WHERE id = ?"
	u, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// CreateUser registers a new account. Emails are stored lowercased and
// must be unique.
func (s *UserService) CreateUser(ctx context.Context, req models.CreateUserRequest) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if req.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	start := time.Now()
	query := "INSERT INTO users (email, name, phone, addresses, favorites) VALUES (?, ?, ?, ?, ?)"
	result, err := s.db.ExecContext(ctx, query, email, req.Name, req.Phone, "[]", "[]")
	s.metrics.RecordDBQuery(ctx, "INSERT", "users", query, start, err == nil)
	if err != nil {
		if strings.Contains(err.Error(), "Duplicate entry") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user ID: %w", err)
	}
	return s.GetUser(ctx, id)
}

// UpdateUser applies a partial profile update. Nil request fields are
// left untouched.
func (s *UserService) UpdateUser(ctx context.Context, id int64, req models.UpdateUserRequest) (*models.User, error) {
	current, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		current.Name = *req.Name
	}
	if req.Phone != nil {
		current.Phone = *req.Phone
	}
	if req.Addresses != nil {
		current.Addresses = *req.Addresses
	}
	if req.Favorites != nil {
		current.Favorites = *req.Favorites
	}

	addresses, err := json.Marshal(current.Addresses)
	if err != nil {
		return nil, fmt.Errorf("failed to encode addresses: %w", err)
	}
	favorites, err := json.Marshal(current.Favorites)
	if err != nil {
		return nil, fmt.Errorf("failed to encode favorites: %w", err)
	}

	start := time.Now()
	query := "UPDATE users SET name = ?, phone = ?, addresses = ?, favorites = ? WHERE id = ?"
	_, err = s.db.ExecContext(ctx, query, current.Name, current.Phone, addresses, favorites, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "users", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return s.GetUser(ctx, id)
}
