// Package content picks share-worthy article URLs from each client's
// feed so generated emails always reference something real. Every URL
// handed out is checked against the prospect's already-sent set.
package content

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/ignite/nurture-engine/internal/domain"
)

// ErrNoContent means no usable item exists for this prospect right now:
// the client has no feed, the feed is unreachable, or every item has
// already been sent. Generation proceeds without a content link.
var ErrNoContent = errors.New("no content available")

// Item is one shareable article from a client's feed.
type Item struct {
	Title     string
	Link      string
	Published time.Time
}

const feedCacheTTL = 15 * time.Minute

type feedEntry struct {
	items     []Item
	fetchedAt time.Time
}

// Library fetches and caches client feeds. Safe for concurrent use.
type Library struct {
	parser *gofeed.Parser

	mu    sync.RWMutex
	cache map[string]feedEntry // feed URL -> parsed items
	now   func() time.Time
}

// NewLibrary creates a content library.
func NewLibrary() *Library {
	return &Library{
		parser: gofeed.NewParser(),
		cache:  make(map[string]feedEntry),
		now:    time.Now,
	}
}

// NextURL returns the newest feed item whose link is not in the sent set.
func (l *Library) NextURL(ctx context.Context, client *domain.Client, sent []string) (*Item, error) {
	if client == nil || client.ContentFeedURL == "" {
		return nil, ErrNoContent
	}

	items, err := l.feedItems(ctx, client.ContentFeedURL)
	if err != nil {
		log.Printf("[Content] fetch feed for client %d failed: %v", client.ID, err)
		return nil, ErrNoContent
	}

	sentSet := make(map[string]struct{}, len(sent))
	for _, u := range sent {
		sentSet[u] = struct{}{}
	}

	for i := range items {
		if _, used := sentSet[items[i].Link]; !used {
			return &items[i], nil
		}
	}
	return nil, ErrNoContent
}

func (l *Library) feedItems(ctx context.Context, feedURL string) ([]Item, error) {
	l.mu.RLock()
	entry, ok := l.cache[feedURL]
	l.mu.RUnlock()
	if ok && l.now().Sub(entry.fetchedAt) < feedCacheTTL {
		return entry.items, nil
	}

	feed, err := l.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		// A stale copy beats nothing while the feed is down.
		if ok {
			return entry.items, nil
		}
		return nil, err
	}

	items := make([]Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it.Link == "" {
			continue
		}
		item := Item{Title: it.Title, Link: it.Link}
		if it.PublishedParsed != nil {
			item.Published = *it.PublishedParsed
		} else if it.UpdatedParsed != nil {
			item.Published = *it.UpdatedParsed
		}
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Published.After(items[j].Published)
	})

	l.mu.Lock()
	l.cache[feedURL] = feedEntry{items: items, fetchedAt: l.now()}
	l.mu.Unlock()

	return items, nil
}
