// Package content supplies the text of scheduled posts.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"postagent-go/internal/apperr"
)

// ErrNoContent is returned by a Source that has nothing to offer.
var ErrNoContent = errors.New("no content available")

// Source produces the next post.
type Source interface {
	Next(ctx context.Context) (string, error)
}

// StaticSource cycles through a fixed list of posts.
type StaticSource struct {
	mu    sync.Mutex
	posts []string
	next  int
}

// NewStaticSource creates a StaticSource. Blank entries are dropped.
func NewStaticSource(posts []string) (*StaticSource, error) {
	var kept []string
	for _, p := range posts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: %w", apperr.ErrValidation, ErrNoContent)
	}
	return &StaticSource{posts: kept}, nil
}

// Next implements Source.
func (s *StaticSource) Next(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post := s.posts[s.next]
	s.next = (s.next + 1) % len(s.posts)
	return post, nil
}
