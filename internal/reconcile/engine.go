// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

/*
Package reconcile matches a collection's items against one library server
and makes the server's collection object mirror the matches.

Each item is looked up in this order, stopping at the first hit:
 1. provider identifier, trying imdb, then tmdb, then tvdb
 2. title search with an exact normalized-title and year match
 3. title search with the best fuzzy candidate (see Similarity)

Items are processed sequentially so one server never sees more than one
lookup at a time from a run. Independent (collection, server) pairs may be
reconciled concurrently by the caller.
*/
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	"github.com/tomtom215/curator/internal/library"
	"github.com/tomtom215/curator/internal/metrics"
	"github.com/tomtom215/curator/internal/models"
)

// ErrPosterNotImage is returned for poster files that are not images.
var ErrPosterNotImage = errors.New("poster is not an image")

// Store is the item persistence the engine needs.
type Store interface {
	ListItems(ctx context.Context, collectionID string) ([]*models.CollectionItem, error)
	UpdateItem(ctx context.Context, collectionID, itemID string, mutate func(*models.CollectionItem) error) (*models.CollectionItem, error)
}

// RunLog records sync runs.
type RunLog interface {
	InsertSyncRun(ctx context.Context, r *models.SyncResult) error
}

// Config bounds the lists kept in a SyncResult.
type Config struct {
	MatchedLimit int
	ErrorLimit   int
	// ImagesDir resolves relative collection poster paths.
	ImagesDir string
}

// DefaultConfig keeps 100 matched items and 50 errors per run.
func DefaultConfig() Config {
	return Config{MatchedLimit: 100, ErrorLimit: 50}
}

// Engine reconciles collections.
type Engine struct {
	cfg      Config
	store    Store
	runs     RunLog
	logger   zerolog.Logger
	now      func() time.Time
	readFile func(string) ([]byte, error)
}

// New builds an engine. runs may be nil.
//
//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func New(cfg Config, st Store, runs RunLog, logger zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.MatchedLimit <= 0 {
		cfg.MatchedLimit = def.MatchedLimit
	}
	if cfg.ErrorLimit <= 0 {
		cfg.ErrorLimit = def.ErrorLimit
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		runs:     runs,
		logger:   logger.With().Str("component", "reconcile").Logger(),
		now:      time.Now,
		readFile: os.ReadFile,
	}
}

// DeriveStatus is Failed when nothing matched, Partial when some items
// matched and some failed, and Success otherwise.
func DeriveStatus(matched, failed int) models.SyncStatus {
	switch {
	case matched == 0:
		return models.SyncFailed
	case failed > 0:
		return models.SyncPartial
	default:
		return models.SyncSuccess
	}
}

// match is one successful lookup.
type match struct {
	remote     *models.LibraryItem
	method     models.MatchMethod
	similarity float64
}

// run accumulates one reconciliation.
type run struct {
	cfg       Config
	result    *models.SyncResult
	remoteIDs []string
}

func (r *run) addError(format string, args ...any) {
	if len(r.result.Errors) >= r.cfg.ErrorLimit {
		r.result.ErrorsTruncated++
		return
	}
	r.result.Errors = append(r.result.Errors, fmt.Sprintf(format, args...))
}

func (r *run) addMatched(m models.MatchedItem) {
	if len(r.result.MatchedItems) >= r.cfg.MatchedLimit {
		r.result.MatchedTruncated++
		return
	}
	r.result.MatchedItems = append(r.result.MatchedItems, m)
}

func (r *run) addFlagged(s string) {
	if len(r.result.Flagged) >= r.cfg.ErrorLimit {
		r.result.FlaggedTruncated++
		return
	}
	r.result.Flagged = append(r.result.Flagged, s)
}

// Reconcile runs one collection against one server. It never returns an
// error: every failure is reflected in the result, which is also appended
// to the run log.
func (e *Engine) Reconcile(ctx context.Context, col *models.Collection, client library.Client) *models.SyncResult {
	start := e.now()
	r := &run{cfg: e.cfg, result: &models.SyncResult{
		ID:             uuid.NewString(),
		CollectionID:   col.ID,
		CollectionName: col.Name,
		ServerID:       client.ServerID(),
		MatchedItems:   []models.MatchedItem{},
		Errors:         []string{},
		StartedAt:      start.UTC(),
	}}
	log := e.logger.With().Str("collection_id", col.ID).Str("server", client.ServerID()).Logger()

	var remoteErr error
	items, err := e.store.ListItems(ctx, col.ID)
	if err != nil {
		r.addError("load items: %v", err)
	} else {
		if len(items) == 0 {
			r.addError("collection has no items")
		}
		e.matchItems(ctx, client, r, items, log)
		if remoteErr = e.reconcileRemote(ctx, col, client, r, log); remoteErr == nil {
			e.uploadPoster(ctx, col, client, r, log)
		}
	}

	res := r.result
	res.Status = DeriveStatus(res.Matched, res.Failed)
	if remoteErr != nil {
		// Matching may have succeeded, but the server was not updated.
		res.Status = models.SyncFailed
	}
	res.FinishedAt = e.now().UTC()
	res.Duration = res.FinishedAt.Sub(res.StartedAt)
	metrics.RecordSync(res.ServerID, string(res.Status), res.Duration)

	if e.runs != nil {
		if err := e.runs.InsertSyncRun(context.WithoutCancel(ctx), res); err != nil {
			log.Warn().Err(err).Msg("failed to record sync run")
		}
	}

	log.Info().
		Str("status", string(res.Status)).
		Int("total", res.Total).
		Int("matched", res.Matched).
		Int("failed", res.Failed).
		Int("added", res.Added).
		Int("removed", res.Removed).
		Dur("duration", res.Duration).
		Msg("collection reconciled")
	return res
}

//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func (e *Engine) matchItems(ctx context.Context, client library.Client, r *run, items []*models.CollectionItem, log zerolog.Logger) {
	serverID := client.ServerID()
	seen := make(map[string]struct{}, len(items))

	for _, item := range items {
		r.result.Total++

		var m *match
		var err error
		var pc panics.Catcher
		pc.Try(func() { m, err = e.match(ctx, client, item) })
		if rec := pc.Recovered(); rec != nil {
			err = fmt.Errorf("lookup panic: %w", rec.AsError())
			log.Error().Str("item_id", item.ID).Str("stack", string(rec.Stack)).Msg("item lookup panicked")
		}

		presence := models.RemotePresence{CheckedAt: e.now().UTC()}
		if err != nil {
			r.result.Failed++
			r.addError("%s: %v", describeItem(item), err)
		} else {
			r.result.Matched++
			presence.InLibrary = true
			presence.RemoteItemID = m.remote.ID
			metrics.SyncMatches.WithLabelValues(string(m.method)).Inc()

			r.addMatched(models.MatchedItem{
				ItemID:       item.ID,
				Title:        item.Title,
				RemoteItemID: m.remote.ID,
				RemoteTitle:  m.remote.Title,
				Method:       m.method,
				Similarity:   m.similarity,
			})
			if isIdentifierMethod(m.method) && item.Title != "" && NormalizeTitle(item.Title) != NormalizeTitle(m.remote.Title) {
				r.addFlagged(fmt.Sprintf("%s matched %q by %s", describeItem(item), m.remote.Title, m.method))
			}
			if _, dup := seen[m.remote.ID]; !dup {
				seen[m.remote.ID] = struct{}{}
				r.remoteIDs = append(r.remoteIDs, m.remote.ID)
			}
		}

		_, uerr := e.store.UpdateItem(ctx, item.CollectionID, item.ID, func(it *models.CollectionItem) error {
			it.SetRemote(serverID, presence)
			return nil
		})
		if uerr != nil {
			log.Warn().Err(uerr).Str("item_id", item.ID).Msg("failed to record remote presence")
		}
	}
}

// match walks the lookup chain for one item.
func (e *Engine) match(ctx context.Context, client library.Client, item *models.CollectionItem) (*match, error) {
	var tried []string
	var lookupErrs []string
	for _, ns := range models.MatchNamespaces {
		v := item.Identifiers.Get(ns)
		if v == "" {
			continue
		}
		tried = append(tried, string(ns)+"="+v)
		found, err := client.FindByIdentifier(ctx, ns, v)
		if err != nil {
			lookupErrs = append(lookupErrs, fmt.Sprintf("%s lookup: %v", ns, err))
			continue
		}
		if found != nil {
			return &match{remote: found, method: models.MatchMethod(ns)}, nil
		}
	}

	if strings.TrimSpace(item.Title) == "" {
		return nil, noMatchError(tried, lookupErrs, "no title to search")
	}
	candidates, err := client.SearchByTitle(ctx, item.Title, item.Kind, item.Year)
	if err != nil {
		lookupErrs = append(lookupErrs, fmt.Sprintf("title search: %v", err))
		return nil, noMatchError(tried, lookupErrs, "")
	}
	if c := exactMatch(item.Title, item.Year, item.Kind, candidates); c != nil {
		return &match{remote: c, method: models.MatchExact, similarity: 1}, nil
	}
	if c, score := fuzzyMatch(item.Title, item.Year, item.Kind, candidates); c != nil {
		return &match{remote: c, method: models.MatchFuzzy, similarity: score}, nil
	}
	return nil, noMatchError(tried, lookupErrs, fmt.Sprintf("no title match among %d candidates", len(candidates)))
}

func noMatchError(tried, lookupErrs []string, detail string) error {
	parts := make([]string, 0, 3)
	if len(tried) > 0 {
		parts = append(parts, "not found by "+strings.Join(tried, ", "))
	}
	parts = append(parts, lookupErrs...)
	if detail != "" {
		parts = append(parts, detail)
	}
	return errors.New(strings.Join(parts, "; "))
}

// reconcileRemote makes the server's collection contain exactly the matched
// items. Adds are applied before removals, and a removal that would leave
// an existing collection empty is skipped without failing the run. Any
// failed remote call ends the phase and is returned.
//
//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func (e *Engine) reconcileRemote(ctx context.Context, col *models.Collection, client library.Client, r *run, log zerolog.Logger) error {
	fail := func(format string, args ...any) error {
		err := fmt.Errorf(format, args...)
		r.addError("%v", err)
		return err
	}

	existing, err := client.GetCollectionByName(ctx, col.Name)
	if err != nil {
		return fail("remote collection lookup: %w", err)
	}

	if existing == nil {
		if len(r.remoteIDs) == 0 {
			return nil
		}
		created, err := client.CreateCollection(ctx, col.Name, r.remoteIDs[:1])
		if err != nil {
			return fail("create remote collection: %w", err)
		}
		r.result.RemoteID = created.ID
		r.result.Added = 1
		if rest := r.remoteIDs[1:]; len(rest) > 0 {
			if err := client.AddItems(ctx, created.ID, rest); err != nil {
				return fail("add %d items to remote collection: %w", len(rest), err)
			}
			r.result.Added += len(rest)
		}
		log.Info().Str("remote_id", created.ID).Int("items", r.result.Added).Msg("remote collection created")
		return nil
	}

	r.result.RemoteID = existing.ID
	current, err := client.GetCollectionItems(ctx, existing.ID)
	if err != nil {
		return fail("list remote collection: %w", err)
	}
	toAdd, toRemove := diff(r.remoteIDs, current)

	if len(toAdd) > 0 {
		if err := client.AddItems(ctx, existing.ID, toAdd); err != nil {
			return fail("add %d items to remote collection: %w", len(toAdd), err)
		}
		r.result.Added = len(toAdd)
	}

	if len(toRemove) == 0 {
		return nil
	}
	if len(current)+r.result.Added-len(toRemove) <= 0 {
		r.addError("skipped removing %d items: remote collection %q would be left empty", len(toRemove), existing.Name)
		return nil
	}
	if err := client.RemoveItems(ctx, existing.ID, toRemove); err != nil {
		return fail("remove %d items from remote collection: %w", len(toRemove), err)
	}
	r.result.Removed = len(toRemove)
	return nil
}

// uploadPoster sets the collection's poster as the remote primary image.
// Failures are logged and never affect the result.
//
//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func (e *Engine) uploadPoster(ctx context.Context, col *models.Collection, client library.Client, r *run, log zerolog.Logger) {
	if col.PosterPath == "" || r.result.RemoteID == "" {
		return
	}
	path := col.PosterPath
	if !filepath.IsAbs(path) && e.cfg.ImagesDir != "" {
		path = filepath.Join(e.cfg.ImagesDir, path)
	}

	data, mime, err := e.loadPoster(path)
	if err == nil {
		err = client.UploadPrimaryImage(ctx, r.result.RemoteID, data, mime)
	}
	if err != nil {
		log.Warn().Err(err).Str("poster", path).Msg("poster upload failed")
		return
	}
	log.Debug().Str("poster", path).Str("mime", mime).Msg("poster uploaded")
}

func (e *Engine) loadPoster(path string) ([]byte, string, error) {
	data, err := e.readFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read poster: %w", err)
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, "", fmt.Errorf("%w: %s", ErrPosterNotImage, mt.String())
	}
	return data, mt.String(), nil
}

// diff returns the ids in want missing from have, and the ids in have
// missing from want, both in input order.
func diff(want, have []string) (toAdd, toRemove []string) {
	for _, id := range want {
		if !slices.Contains(have, id) {
			toAdd = append(toAdd, id)
		}
	}
	for _, id := range have {
		if !slices.Contains(want, id) {
			toRemove = append(toRemove, id)
		}
	}
	return toAdd, toRemove
}

func isIdentifierMethod(m models.MatchMethod) bool {
	return m == models.MatchIMDB || m == models.MatchTMDB || m == models.MatchTVDB
}

func describeItem(it *models.CollectionItem) string {
	if it.Year > 0 {
		return fmt.Sprintf("%q (%d)", it.Title, it.Year)
	}
	return fmt.Sprintf("%q", it.Title)
}
