package repository

import (
	"context"
	"fmt"
	"strings"
)

// Pagination limits for list queries.
const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Page selects a 1-based page of results.
type Page struct {
	Page  int
	Limit int
}

// Normalize clamps the page into valid bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// conditions accumulates WHERE clauses with positional arguments.
type conditions struct {
	clauses []string
	args    []any
}

// add appends a clause. format must contain exactly one %d for the placeholder index.
func (c *conditions) add(format string, arg any) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, fmt.Sprintf(format, len(c.args)))
}

// raw appends a clause that takes no argument.
func (c *conditions) raw(clause string) {
	c.clauses = append(c.clauses, clause)
}

func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

// count runs SELECT COUNT(*) over from with the accumulated conditions.
func (r *Repository) count(ctx context.Context, from string, c *conditions) (int, error) {
	var total int
	if err := r.q(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM "+from+c.where(), c.args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", from, err)
	}
	return total, nil
}

// pageSuffix appends ORDER BY/LIMIT/OFFSET and returns the full argument list.
func pageSuffix(c *conditions, orderBy string, p Page) (string, []any) {
	args := append([]any{}, c.args...)
	args = append(args, p.Limit, offset(p.Page, p.Limit))
	return fmt.Sprintf(" ORDER BY %s LIMIT $%d OFFSET $%d", orderBy, len(args)-1, len(args)), args
}
