package server

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mahirjain10/go-resizer/internal/types"
)

const (
	sessionCookie = "resizer_session"
	galleryKey    = "gallery"
)

// GalleryEntry references one resolved asset. The asset is looked up again
// by the key rebuilt from FileName and Options, never kept in memory.
type GalleryEntry struct {
	FileName string                 `json:"fileName"`
	Options  types.TransformOptions `json:"options"`
}

// Gallery is the append-only list of assets a client has resolved.
type Gallery struct {
	mu      sync.Mutex
	entries []GalleryEntry
}

func (g *Gallery) Append(entries ...GalleryEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = append(g.entries, entries...)
}

func (g *Gallery) At(i int) (GalleryEntry, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if i < 0 || i >= len(g.entries) {
		return GalleryEntry{}, false
	}
	return g.entries[i], true
}

func (g *Gallery) Entries() []GalleryEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]GalleryEntry, len(g.entries))
	copy(out, g.entries)
	return out
}

// Sessions holds one gallery per session id. Idle sessions expire after ttl
// and the least recently used are dropped beyond limit.
type Sessions struct {
	mu        sync.Mutex
	galleries *expirable.LRU[string, *Gallery]
	ttl       time.Duration
}

func NewSessions(limit int, ttl time.Duration) *Sessions {
	return &Sessions{
		galleries: expirable.NewLRU[string, *Gallery](limit, nil, ttl),
		ttl:       ttl,
	}
}

// Gallery returns the gallery for id, starting a new session when id is
// unknown or expired. The returned id is the one to hand back to the client.
func (s *Sessions) Gallery(id string) (string, *Gallery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if g, ok := s.galleries.Get(id); ok {
			// re-adding slides the expiry
			s.galleries.Add(id, g)
			return id, g
		}
	}
	id = uuid.NewString()
	g := &Gallery{}
	s.galleries.Add(id, g)
	return id, g
}

func (s *Sessions) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		current, _ := c.Cookie(sessionCookie)
		if _, err := uuid.Parse(current); err != nil {
			current = ""
		}
		id, g := s.Gallery(current)
		c.SetCookie(sessionCookie, id, int(s.ttl.Seconds()), "/", "", false, true)
		c.Set(galleryKey, g)
		c.Next()
	}
}

func galleryOf(c *gin.Context) *Gallery {
	return c.MustGet(galleryKey).(*Gallery)
}
