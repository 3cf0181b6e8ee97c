// Package cache keeps validated papers in Redis in front of the database.
// Papers never change once stored, so entries are only dropped by TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/pavelanni/papergen/internal/model"
)

// PaperLoader fetches a paper from the backing store. It returns nil, nil
// when the paper does not exist.
type PaperLoader interface {
	GetPaper(id int64) (*model.Paper, error)
}

// entry is the cached form. model.Paper hides its owner from JSON.
type entry struct {
	OwnerID int64       `json:"owner_id"`
	Paper   model.Paper `json:"paper"`
}

// PaperCache is a read-through paper cache. A nil Redis client disables
// caching and every lookup goes to the loader.
type PaperCache struct {
	client *redis.Client
	loader PaperLoader
	ttl    time.Duration
	log    *slog.Logger
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewPaperCache(client *redis.Client, loader PaperLoader, ttl time.Duration, log *slog.Logger) *PaperCache {
	if log == nil {
		log = slog.Default()
	}
	return &PaperCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    log,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Paper returns the paper with the given ID, or nil if it does not exist.
func (c *PaperCache) Paper(ctx context.Context, id int64) (*model.Paper, error) {
	if p, ok := c.lookup(ctx, id); ok {
		return p, nil
	}

	result, err, _ := c.sf.Do(strconv.FormatInt(id, 10), func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if p, ok := c.lookup(ctx, id); ok {
			return p, nil
		}

		p, err := c.loader.GetPaper(id)
		if err != nil || p == nil {
			return p, err
		}
		c.store(ctx, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p, _ := result.(*model.Paper)
	if p == nil {
		return nil, nil
	}
	// Callers must not share the singleflight result.
	cp := *p
	return &cp, nil
}

// Ping checks the Redis connection. It is a no-op without a client.
func (c *PaperCache) Ping(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func (c *PaperCache) lookup(ctx context.Context, id int64) (*model.Paper, bool) {
	if c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("paper cache read failed", "paper_id", id, "error", err)
		}
		return nil, false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.log.Warn("paper cache entry corrupt", "paper_id", id, "error", err)
		return nil, false
	}
	p := e.Paper
	p.OwnerID = e.OwnerID
	return &p, true
}

func (c *PaperCache) store(ctx context.Context, p *model.Paper) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(entry{OwnerID: p.OwnerID, Paper: *p})
	if err != nil {
		c.log.Warn("paper cache encode failed", "paper_id", p.ID, "error", err)
		return
	}
	if err := c.client.Set(ctx, key(p.ID), data, c.ttlWithJitter()).Err(); err != nil {
		c.log.Warn("paper cache write failed", "paper_id", p.ID, "error", err)
	}
}

func key(id int64) string {
	return "paper:" + strconv.FormatInt(id, 10)
}

// ttlWithJitter spreads expiry by up to 10% so papers cached together do not
// expire together.
func (c *PaperCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
