package services

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/securebank/backend/internal/models"
)

// BannerService manages the promotional banners shown on the landing
// page. Reads are public, writes are admin-only.
type BannerService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewBannerService(db *sql.DB) *BannerService {
	return &BannerService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// BannerPayload represents a banner create/update payload
type BannerPayload struct {
	Title           string `json:"title" validate:"required,max=128"`
	Subtitle        string `json:"subtitle" validate:"max=256"`
	BackgroundColor string `json:"background_color" validate:"omitempty,hexcolor"`
	TextColor       string `json:"text_color" validate:"omitempty,hexcolor"`
}

const bannerColumns = "id, title, subtitle, background_color, text_color, is_active, display_order, created_at, updated_at"

// ActiveBanners returns the enabled banners in display order.
func (s *BannerService) ActiveBanners(w http.ResponseWriter, r *http.Request) {
	banners, err := s.queryBanners(`
		SELECT ` + bannerColumns + ` FROM banners WHERE is_active = true ORDER BY display_order`)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, banners)
}

// ListBanners returns every banner, enabled or not.
func (s *BannerService) ListBanners(w http.ResponseWriter, r *http.Request) {
	banners, err := s.queryBanners(`
		SELECT ` + bannerColumns + ` FROM banners ORDER BY display_order`)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, banners)
}

// CreateBanner adds a banner at the end of the display order.
func (s *BannerService) CreateBanner(w http.ResponseWriter, r *http.Request) {
	var req BannerPayload
	if !decodeBannerPayload(w, r, s.validator, &req) {
		return
	}

	banner := models.Banner{
		ID:              uuid.NewString(),
		Title:           req.Title,
		Subtitle:        req.Subtitle,
		BackgroundColor: req.BackgroundColor,
		TextColor:       req.TextColor,
		IsActive:        true,
		CreatedAt:       time.Now(),
	}

	err := s.db.QueryRow(`
		INSERT INTO banners (id, title, subtitle, background_color, text_color, is_active, display_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, (SELECT COALESCE(MAX(display_order), 0) + 1 FROM banners), $7)
		RETURNING display_order`,
		banner.ID, banner.Title, banner.Subtitle, banner.BackgroundColor, banner.TextColor,
		banner.IsActive, banner.CreatedAt,
	).Scan(&banner.DisplayOrder)
	if err != nil {
		log.Printf("[BANNER] Create failed: %v", err)
		writeServiceError(w, fmt.Errorf("failed to create banner: %w", err))
		return
	}

	writeJSON(w, http.StatusCreated, banner)
}

// GetBanner returns one banner by id.
func (s *BannerService) GetBanner(w http.ResponseWriter, r *http.Request) {
	banner, err := s.loadBanner(chi.URLParam(r, "bannerID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, banner)
}

// UpdateBanner replaces a banner's content fields.
func (s *BannerService) UpdateBanner(w http.ResponseWriter, r *http.Request) {
	bannerID := chi.URLParam(r, "bannerID")

	var req BannerPayload
	if !decodeBannerPayload(w, r, s.validator, &req) {
		return
	}

	result, err := s.db.Exec(`
		UPDATE banners SET title = $1, subtitle = $2, background_color = $3, text_color = $4, updated_at = NOW()
		WHERE id = $5`,
		req.Title, req.Subtitle, req.BackgroundColor, req.TextColor, bannerID)
	if err != nil {
		writeServiceError(w, fmt.Errorf("failed to update banner: %w", err))
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		writeServiceError(w, fmt.Errorf("%w: banner %s", ErrNotFound, bannerID))
		return
	}

	banner, err := s.loadBanner(bannerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, banner)
}

// ToggleBanner flips a banner's visibility.
func (s *BannerService) ToggleBanner(w http.ResponseWriter, r *http.Request) {
	bannerID := chi.URLParam(r, "bannerID")

	result, err := s.db.Exec(`
		UPDATE banners SET is_active = NOT is_active, updated_at = NOW() WHERE id = $1
	`, bannerID)
	if err != nil {
		writeServiceError(w, fmt.Errorf("failed to toggle banner: %w", err))
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		writeServiceError(w, fmt.Errorf("%w: banner %s", ErrNotFound, bannerID))
		return
	}

	banner, err := s.loadBanner(bannerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, banner)
}

// DeleteBanner removes a banner.
func (s *BannerService) DeleteBanner(w http.ResponseWriter, r *http.Request) {
	bannerID := chi.URLParam(r, "bannerID")

	result, err := s.db.Exec(`DELETE FROM banners WHERE id = $1`, bannerID)
	if err != nil {
		writeServiceError(w, fmt.Errorf("failed to delete banner: %w", err))
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		writeServiceError(w, fmt.Errorf("%w: banner %s", ErrNotFound, bannerID))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Banner deleted"})
}

func (s *BannerService) loadBanner(bannerID string) (*models.Banner, error) {
	var b models.Banner
	err := s.db.QueryRow(`
		SELECT `+bannerColumns+` FROM banners WHERE id = $1
	`, bannerID).Scan(&b.ID, &b.Title, &b.Subtitle, &b.BackgroundColor, &b.TextColor,
		&b.IsActive, &b.DisplayOrder, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: banner %s", ErrNotFound, bannerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load banner %s: %w", bannerID, err)
	}
	return &b, nil
}

func (s *BannerService) queryBanners(query string) ([]models.Banner, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list banners: %w", err)
	}
	defer rows.Close()

	banners := []models.Banner{}
	for rows.Next() {
		var b models.Banner
		if err := rows.Scan(&b.ID, &b.Title, &b.Subtitle, &b.BackgroundColor, &b.TextColor,
			&b.IsActive, &b.DisplayOrder, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		banners = append(banners, b)
	}
	return banners, rows.Err()
}

func decodeBannerPayload(w http.ResponseWriter, r *http.Request, v *ValidationHelper, dst *BannerPayload) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	if err := decodeSingleJSON(r, dst); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return false
	}
	if err := v.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}
