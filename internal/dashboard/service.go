// Package dashboard builds the landing page summary.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hospital-it/helpdesk/internal/equipment"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
	"github.com/hospital-it/helpdesk/internal/tickets"
)

// TicketCounter counts tickets in the actor's scope.
type TicketCounter interface {
	Counts(ctx context.Context, actor *rbac.Principal) (map[tickets.Status]int, error)
}

// TaskCounter counts the actor's open tasks.
type TaskCounter interface {
	OpenCounts(ctx context.Context, actor *rbac.Principal) (open, overdue int, err error)
}

// EquipmentCounter counts assets per status.
type EquipmentCounter interface {
	Counts(ctx context.Context, actor *rbac.Principal) (map[equipment.Status]int, error)
}

// StatusCount is one tile of the summary.
type StatusCount struct {
	Status string `json:"status"`
	Label  string `json:"label"`
	Count  int    `json:"count"`
}

// Summary is what the dashboard shows. Sections the actor may not see are
// left empty and flagged off.
type Summary struct {
	Tickets       []StatusCount `json:"tickets"`
	ShowTasks     bool          `json:"show_tasks"`
	OpenTasks     int           `json:"open_tasks"`
	OverdueTasks  int           `json:"overdue_tasks"`
	ShowEquipment bool          `json:"show_equipment"`
	Equipment     []StatusCount `json:"equipment"`
	GeneratedAt   time.Time     `json:"generated_at"`
}

// Service assembles summaries, caching them briefly per user.
type Service struct {
	tickets   TicketCounter
	tasks     TaskCounter
	equipment EquipmentCounter
	cache     *redis.Client
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service instance. A nil cache disables caching.
func NewService(t TicketCounter, k TaskCounter, e EquipmentCounter, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{tickets: t, tasks: k, equipment: e, cache: cache, ttl: ttl, logger: logger, now: time.Now}
}

// Summary returns the dashboard of actor.
func (s *Service) Summary(ctx context.Context, actor *rbac.Principal) (Summary, error) {
	if !rbac.HasPermission(actor, shared.PermDashboardView) {
		return Summary{}, shared.ErrForbidden
	}
	key := cacheKey(actor)
	if cached, ok := s.fromCache(ctx, key); ok {
		return cached, nil
	}

	out := Summary{
		ShowTasks:     rbac.HasPermission(actor, shared.PermTasksView),
		ShowEquipment: rbac.HasPermission(actor, shared.PermEquipmentView),
		GeneratedAt:   s.now().UTC(),
	}
	g, gctx := errgroup.WithContext(ctx)
	if rbac.HasPermission(actor, shared.PermTicketsView) {
		g.Go(func() error {
			counts, err := s.tickets.Counts(gctx, actor)
			if err != nil {
				return fmt.Errorf("dashboard: tickets: %w", err)
			}
			for _, st := range tickets.Statuses() {
				out.Tickets = append(out.Tickets, StatusCount{Status: string(st), Label: st.Label(), Count: counts[st]})
			}
			return nil
		})
	}
	if out.ShowTasks {
		g.Go(func() error {
			open, overdue, err := s.tasks.OpenCounts(gctx, actor)
			if err != nil {
				return fmt.Errorf("dashboard: tasks: %w", err)
			}
			out.OpenTasks, out.OverdueTasks = open, overdue
			return nil
		})
	}
	if out.ShowEquipment {
		g.Go(func() error {
			counts, err := s.equipment.Counts(gctx, actor)
			if err != nil {
				return fmt.Errorf("dashboard: equipment: %w", err)
			}
			for _, st := range equipment.Statuses() {
				out.Equipment = append(out.Equipment, StatusCount{Status: string(st), Label: st.Label(), Count: counts[st]})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	s.store(ctx, key, out)
	return out, nil
}

// Invalidate drops the cached summary of actor.
func (s *Service) Invalidate(ctx context.Context, actor *rbac.Principal) {
	if s.cache == nil || actor == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKey(actor)).Err(); err != nil {
		s.logger.Warn("dashboard cache delete", slog.Any("error", err))
	}
}

func (s *Service) fromCache(ctx context.Context, key string) (Summary, bool) {
	if s.cache == nil {
		return Summary{}, false
	}
	raw, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("dashboard cache read", slog.Any("error", err))
		}
		return Summary{}, false
	}
	var out Summary
	if err := json.Unmarshal(raw, &out); err != nil {
		return Summary{}, false
	}
	return out, true
}

func (s *Service) store(ctx context.Context, key string, sum Summary) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(sum)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.logger.Warn("dashboard cache write", slog.Any("error", err))
	}
}

// cacheKey separates users and roles so a role change never serves a
// summary built under the old role.
func cacheKey(p *rbac.Principal) string {
	return fmt.Sprintf("helpdesk:dashboard:%d:%s", p.ID, p.Role)
}
