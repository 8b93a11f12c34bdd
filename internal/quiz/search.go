package quiz

import (
	"fmt"
	"strings"

	"github.com/victornm/quiztaker/internal/domain"
	"github.com/victornm/quiztaker/internal/errors"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// sortColumns maps the accepted sort keys to their ORDER BY expression.
var sortColumns = map[string]string{
	"":              "q.create_time",
	"createdAt":     "q.create_time",
	"created_at":    "q.create_time",
	"title":         "q.title",
	"attemptCount":  "attempt_count",
	"attempt_count": "attempt_count",
	"avgScore":      "avg_score",
	"avg_score":     "avg_score",
}

type searchQuery struct {
	where   string
	args    []any
	orderBy string
	limit   int
	page    int
}

func (q searchQuery) offset() int {
	return (q.page - 1) * q.limit
}

func buildSearch(req domain.SearchRequest) (searchQuery, error) {
	col, ok := sortColumns[req.SortBy]
	if !ok {
		return searchQuery{}, errors.InvalidArgument("unsupported sort field %q", req.SortBy)
	}

	var dir string
	switch strings.ToLower(req.Order) {
	case "", "desc":
		dir = "DESC"
	case "asc":
		dir = "ASC"
	default:
		return searchQuery{}, errors.InvalidArgument("unsupported sort order %q", req.Order)
	}

	sq := searchQuery{
		orderBy: fmt.Sprintf("%s %s, q.id %s", col, dir, dir),
		limit:   req.Limit,
		page:    req.Page,
	}
	if sq.limit <= 0 {
		sq.limit = defaultSearchLimit
	}
	if sq.limit > maxSearchLimit {
		sq.limit = maxSearchLimit
	}
	if sq.page < 1 {
		sq.page = 1
	}

	conds := []string{"q.is_public"}
	arg := func(v any) string {
		sq.args = append(sq.args, v)
		return fmt.Sprintf("$%d", len(sq.args))
	}

	if s := strings.TrimSpace(req.Query); s != "" {
		p := arg("%" + escapeLike(s) + "%")
		conds = append(conds, fmt.Sprintf("(q.title ILIKE %s OR q.description ILIKE %s)", p, p))
	}
	if s := strings.TrimSpace(req.Category); s != "" {
		conds = append(conds, "q.category = "+arg(s))
	}
	if s := strings.TrimSpace(req.Difficulty); s != "" {
		conds = append(conds, "q.difficulty = "+arg(s))
	}

	sq.where = strings.Join(conds, " AND ")

	return sq, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
