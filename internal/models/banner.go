package models

import "time"

// Banner is a promotional banner shown on the landing page.
type Banner struct {
	ID              string     `json:"id" db:"id"`
	Title           string     `json:"title" db:"title"`
	Subtitle        string     `json:"subtitle" db:"subtitle"`
	BackgroundColor string     `json:"background_color" db:"background_color"`
	TextColor       string     `json:"text_color" db:"text_color"`
	IsActive        bool       `json:"is_active" db:"is_active"`
	DisplayOrder    int        `json:"order" db:"display_order"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}
