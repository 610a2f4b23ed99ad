package scraper

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/shopspring/decimal"

	"bookshopbot/internal/util"
	"bookshopbot/pkg/domain"
	"bookshopbot/pkg/store"
)

const (
	defaultTitle       = "Untitled"
	defaultAuthor      = "Unknown author"
	defaultGenre       = "Unknown genre"
	defaultDescription = "No description"
)

// Config bounds one ingestion run.
type Config struct {
	Subject string
	Total   int
	Batch   int
}

// Stats counts what a run did.
type Stats struct {
	Fetched int
	Added   int
	Skipped int
	Failed  int
}

func (s Stats) String() string {
	return fmt.Sprintf("Fetched %d works: %d added, %d already present, %d failed.", s.Fetched, s.Added, s.Skipped, s.Failed)
}

// Source is the upstream listing API.
type Source interface {
	Subject(ctx context.Context, subject string, limit, offset int) (SubjectPage, error)
}

// Scraper ingests subject listings into the catalog. Runs are idempotent:
// a title already present in its catalog is skipped.
type Scraper struct {
	source Source
	store  store.Store
	cfg    Config
	price  func() decimal.Decimal
}

func New(source Source, st store.Store, cfg Config) (*Scraper, error) {
	if source == nil || st == nil {
		return nil, errors.New("scraper: source and store required")
	}
	cfg.Subject = strings.TrimSpace(cfg.Subject)
	if cfg.Subject == "" {
		cfg.Subject = "love"
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.Total <= 0 {
		cfg.Total = 250
	}
	return &Scraper{source: source, store: st, cfg: cfg, price: randomPrice}, nil
}

// randomPrice is uniform in [100, 1000) with two decimal places.
func randomPrice() decimal.Decimal {
	return decimal.NewFromFloat(100 + rand.Float64()*900).Round(2)
}

// Run pages through the subject until Total works were seen or the listing
// ends. A failed page aborts the run; a failed book is logged and skipped.
func (s *Scraper) Run(ctx context.Context) (Stats, error) {
	logger := util.LoggerFromContext(ctx).With("subject", s.cfg.Subject)
	var stats Stats
	for offset := 0; stats.Fetched < s.cfg.Total; offset += s.cfg.Batch {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		limit := min(s.cfg.Batch, s.cfg.Total-stats.Fetched)
		logger.Info("fetching subject page", "offset", offset, "limit", limit)
		page, err := s.source.Subject(ctx, s.cfg.Subject, limit, offset)
		if err != nil {
			return stats, fmt.Errorf("fetch offset %d: %w", offset, err)
		}
		if len(page.Works) == 0 {
			logger.Info("no more works")
			break
		}
		for _, w := range page.Works {
			stats.Fetched++
			book, created, err := s.store.CreateBookIfAbsent(s.toBook(w))
			switch {
			case err != nil:
				stats.Failed++
				logger.Error("store book failed", "title", w.Title, "err", err)
			case created:
				stats.Added++
				logger.Debug("book added", "book", book.ID, "catalog", book.Catalog, "price", book.Price.StringFixed(2))
			default:
				stats.Skipped++
			}
			if stats.Fetched >= s.cfg.Total {
				break
			}
		}
	}
	logger.Info("scrape finished", "fetched", stats.Fetched, "added", stats.Added, "skipped", stats.Skipped, "failed", stats.Failed)
	return stats, nil
}

func (s *Scraper) toBook(w Work) domain.NewBook {
	title := strings.TrimSpace(w.Title)
	if title == "" {
		title = defaultTitle
	}
	author := defaultAuthor
	if len(w.Authors) > 0 && strings.TrimSpace(w.Authors[0].Name) != "" {
		author = strings.TrimSpace(w.Authors[0].Name)
	}
	genre, catalog := defaultGenre, domain.DefaultCatalogName
	if len(w.Subject) > 0 && strings.TrimSpace(w.Subject[0]) != "" {
		genre = strings.TrimSpace(w.Subject[0])
		catalog = genre
	}
	description := w.DescriptionText()
	if description == "" {
		description = defaultDescription
	}
	return domain.NewBook{
		Title:       title,
		Description: description,
		Author:      author,
		Genre:       genre,
		Catalog:     catalog,
		Price:       s.price(),
		Metadata: map[string]string{
			"source":  "openlibrary",
			"subject": s.cfg.Subject,
			"key":     w.Key,
		},
	}
}
