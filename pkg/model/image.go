package model

import (
	"strings"
	"time"
)

// Uploader identifies who uploaded an image.
type Uploader struct {
	ID       string `json:"_id,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Image is the normalized gallery record, whatever host it came from.
type Image struct {
	ID          string
	DisplayName string
	Source      Source
	Hash        string
	MIME        string
	Size        int64
	Uploader    *Uploader
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Matches reports whether the display name contains query, ignoring case.
// An empty query matches everything.
func (img Image) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(img.DisplayName), q)
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// SinglePage is the pagination of an unpaged listing of n records.
func SinglePage(n int) *Pagination {
	return &Pagination{Page: 1, Limit: n, Total: n, TotalPages: 1}
}

// PageCount returns how many pages of size limit hold total records.
func PageCount(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
