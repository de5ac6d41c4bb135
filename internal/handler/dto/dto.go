// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import "github.com/checkoutd/checkoutd/internal/service"

// ErrorResponse is the error envelope of every API error.
type ErrorResponse struct {
	Error  string               `json:"error"`
	Code   string               `json:"code"`
	Errors []service.FieldError `json:"errors,omitempty"`
}

// Pagination describes a page of a list response.
type Pagination struct {
	TotalCount int `json:"total_count"`
	MaxPage    int `json:"max_page"`
}

// ListResponse is a page of items.
type ListResponse[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// NewListResponse builds a page envelope. Items are never encoded as null.
func NewListResponse[T any](items []T, total, limit int) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	maxPage := 0
	if limit > 0 {
		maxPage = (total + limit - 1) / limit
	}
	return ListResponse[T]{
		Items:      items,
		Pagination: Pagination{TotalCount: total, MaxPage: maxPage},
	}
}

// Map converts every element of in.
func Map[S, T any](in []S, fn func(S) T) []T {
	out := make([]T, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}
