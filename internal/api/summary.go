package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/blazealert/internal/storage"
)

// unreadCap bounds the unread count an owner summary reports.
const unreadCap = 500

// OwnerSummary is the dashboard view of one owner's alerting state.
type OwnerSummary struct {
	OwnerID         string     `json:"owner_id"`
	Rules           int        `json:"rules"`
	EnabledRules    int        `json:"enabled_rules"`
	Unread          int        `json:"unread"`
	UnreadTruncated bool       `json:"unread_truncated,omitempty"`
	EmailConfigured bool       `json:"email_configured"`
	LastFiredAt     *time.Time `json:"last_fired_at,omitempty"`
}

func (s *Server) handleOwnerSummary(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	ctx, cancel := context.WithTimeout(r.Context(), s.config.QueryTimeout)
	defer cancel()

	summary, err := s.ownerSummary(ctx, owner)
	if err != nil {
		apiErr := FromError(err)
		if apiErr.Status >= http.StatusInternalServerError {
			s.logger.Error().Err(err).Str("owner_id", owner).Msg("owner summary failed")
		}
		JSONError(w, r, apiErr)
		return
	}
	OK(w, summary)
}

func (s *Server) ownerSummary(ctx context.Context, owner string) (*OwnerSummary, error) {
	summary := &OwnerSummary{OwnerID: owner}

	rules, err := s.storage.Rules().ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	summary.Rules = len(rules)
	for _, rule := range rules {
		if rule.Enabled {
			summary.EnabledRules++
		}
		if t := rule.LastTriggeredAt; t != nil && (summary.LastFiredAt == nil || t.After(*summary.LastFiredAt)) {
			summary.LastFiredAt = t
		}
	}

	unread, err := s.storage.Notifications().ListByOwner(ctx, owner, storage.NotificationFilter{UnreadOnly: true, Limit: unreadCap})
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	summary.Unread = len(unread)
	summary.UnreadTruncated = len(unread) == unreadCap

	email, err := s.storage.Contacts().OwnerEmail(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("lookup contact: %w", err)
	}
	summary.EmailConfigured = email != ""

	return summary, nil
}
