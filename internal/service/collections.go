// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package service

import (
	"context"
	"fmt"

	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/provider"
	"github.com/tomtom215/curator/internal/queue"
	"github.com/tomtom215/curator/internal/refresh"
	"github.com/tomtom215/curator/internal/retry"
	"github.com/tomtom215/curator/internal/schedule"
	"github.com/tomtom215/curator/internal/validation"
)

// ListCollections returns every collection sorted by name.
func (s *Service) ListCollections(ctx context.Context) ([]*models.Collection, error) {
	return s.deps.Store.ListCollections(ctx)
}

func (s *Service) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	return s.deps.Store.GetCollection(ctx, id)
}

func (s *Service) ListItems(ctx context.Context, id string) ([]*models.CollectionItem, error) {
	if _, err := s.deps.Store.GetCollection(ctx, id); err != nil {
		return nil, err
	}
	return s.deps.Store.ListItems(ctx, id)
}

// CreateCollection validates in, stores the collection, arms its refresh
// timer and queues a first refresh for provider-backed collections.
func (s *Service) CreateCollection(ctx context.Context, in *models.CollectionInput) (*models.Collection, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	c := &models.Collection{}
	applyInput(c, in)
	if err := s.deps.Store.CreateCollection(ctx, c); err != nil {
		return nil, err
	}
	s.reschedule(c)

	if !c.IsManual() {
		if _, err := s.EnqueueRefresh(ctx, c.ID, ReasonManual); err != nil {
			s.logger.Warn().Err(err).Str("collection_id", c.ID).Msg("failed to queue initial refresh")
		}
	}
	s.logger.Info().Str("collection_id", c.ID).Str("name", c.Name).Str("source", string(c.Source)).Msg("collection created")
	return c, nil
}

// UpdateCollection replaces the editable fields of a collection. Items,
// LastSyncAt and CreatedAt are kept.
func (s *Service) UpdateCollection(ctx context.Context, id string, in *models.CollectionInput) (*models.Collection, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	c, err := s.deps.Store.UpdateCollection(ctx, id, func(c *models.Collection) error {
		applyInput(c, in)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.reschedule(c)
	return c, nil
}

// DeleteCollection removes a collection and its items. Remote collections
// on library servers are left in place.
func (s *Service) DeleteCollection(ctx context.Context, id string) error {
	if err := s.deps.Store.DeleteCollection(ctx, id); err != nil {
		return err
	}
	if s.deps.Scheduler != nil {
		s.deps.Scheduler.UnscheduleCollection(id)
	}
	if s.deps.Progress != nil {
		s.deps.Progress.Remove(id)
	}
	s.logger.Info().Str("collection_id", id).Msg("collection deleted")
	return nil
}

// SetItems replaces the items of a manual collection and queues
// enrichment for them. Duplicates by identifier are dropped the same way a
// provider refresh drops them.
func (s *Service) SetItems(ctx context.Context, id string, in []models.ItemInput) ([]*models.CollectionItem, error) {
	if err := validateItems(in); err != nil {
		return nil, err
	}
	c, err := s.deps.Store.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsManual() {
		return nil, retry.Permanent("set items", ErrNotManual)
	}

	raw := make([]provider.ListItem, len(in))
	for i, it := range in {
		raw[i] = provider.ListItem{Kind: it.Kind, Title: it.Title, Year: it.Year, Identifiers: it.Identifiers}
	}
	kept, _ := refresh.Dedupe(raw)

	items := make([]*models.CollectionItem, len(kept))
	for i, li := range kept {
		items[i] = &models.CollectionItem{
			Kind:        li.Kind,
			Title:       li.Title,
			Year:        li.Year,
			Identifiers: li.Identifiers,
			Enrichment:  models.Enrichment{Status: models.EnrichmentPending},
		}
	}
	if err := s.deps.Store.ReplaceItems(ctx, id, items, s.now()); err != nil {
		return nil, err
	}
	if s.deps.Progress != nil {
		s.deps.Progress.Reset(id, len(items))
	}
	for _, it := range items {
		if _, err := s.deps.Queue.Enqueue(queue.EnrichItem{CollectionID: id, ItemID: it.ID}, queue.PriorityNormal, s.cfg.EnrichMaxAttempts, 0); err != nil {
			return nil, fmt.Errorf("enqueue enrichment: %w", err)
		}
	}
	return items, nil
}

func (s *Service) validateInput(in *models.CollectionInput) error {
	if err := validation.ValidateStruct(in); err != nil {
		return err
	}
	var fields []validation.FieldError
	if in.Source == models.SourceTraktList && in.SourceRef == "" {
		fields = append(fields, validation.FieldError{
			Field:   "source_ref",
			Tag:     "required",
			Message: "source_ref is required for trakt_list collections",
		})
	}
	for _, t := range in.Targets {
		if _, ok := s.servers[t]; !ok {
			fields = append(fields, validation.FieldError{
				Field:   "targets",
				Tag:     "server",
				Param:   t,
				Message: fmt.Sprintf("targets references unknown server %q", t),
			})
		}
	}
	if len(fields) > 0 {
		return &validation.Error{Fields: fields}
	}
	return nil
}

func validateItems(in []models.ItemInput) error {
	var fields []validation.FieldError
	for i := range in {
		err := validation.ValidateStruct(&in[i])
		if err == nil {
			continue
		}
		verr, ok := err.(*validation.Error)
		if !ok {
			return err
		}
		for _, fe := range verr.Fields {
			fe.Field = fmt.Sprintf("items[%d].%s", i, fe.Field)
			fields = append(fields, fe)
		}
	}
	if len(fields) > 0 {
		return &validation.Error{Fields: fields}
	}
	return nil
}

func applyInput(c *models.Collection, in *models.CollectionInput) {
	c.Name = in.Name
	c.Description = in.Description
	c.Source = in.Source
	c.SourceRef = in.SourceRef
	if in.Source != models.SourceTraktList {
		c.SourceRef = ""
	}
	c.AutoRefresh = in.AutoRefresh
	c.RefreshIntervalHours = in.RefreshIntervalHours
	c.RefreshTime = in.RefreshTime
	if c.RefreshTime == "" {
		c.RefreshTime = schedule.DefaultTimeOfDay
	}
	c.PosterPath = in.PosterPath
	c.Targets = in.Targets
}

func (s *Service) reschedule(c *models.Collection) {
	if s.deps.Scheduler == nil {
		return
	}
	if err := s.deps.Scheduler.ScheduleCollection(c); err != nil {
		s.logger.Warn().Err(err).Str("collection_id", c.ID).Msg("failed to schedule collection")
	}
}
