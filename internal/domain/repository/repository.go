// Package repository defines the Repository domain entity.
package repository

import "time"

// Repository is a watched source repository on the Forge. It is created on
// first observation of one of its pull requests and never mutated afterward.
type Repository struct {
	ID             string    `json:"id"`
	Owner          string    `json:"owner"`
	Name           string    `json:"name"`
	FullName       string    `json:"full_name"`
	DefaultBranch  string    `json:"default_branch"`
	CreatedAt      time.Time `json:"created_at"`
}
