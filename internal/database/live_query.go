package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// LiveQueryAction is the kind of change reported by a live query.
type LiveQueryAction string

const (
	ActionCreate LiveQueryAction = "CREATE"
	ActionUpdate LiveQueryAction = "UPDATE"
	ActionDelete LiveQueryAction = "DELETE"
)

// LiveQueryHandler receives one change. Handlers of a subscription are
// called one at a time in the order the database reports changes.
type LiveQueryHandler func(ctx context.Context, action LiveQueryAction, data any)

// LiveQueryFilter narrows a table subscription.
type LiveQueryFilter struct {
	Where  string
	Params map[string]any
	Fields []string
}

// Subscription is an active live query.
type Subscription struct {
	ID    string
	Table string
}

// LiveQueryService provides change feeds via SurrealDB live queries.
type LiveQueryService interface {
	Subscribe(ctx context.Context, table string, filter *LiveQueryFilter, handler LiveQueryHandler) (*Subscription, error)
	Unsubscribe(subID string) error
}

// SurrealLiveQueryService implements LiveQueryService.
type SurrealLiveQueryService struct {
	conn          DBConnection
	subscriptions sync.Map // map[string]*subscriptionState
}

type subscriptionState struct {
	id          string
	table       string
	handler     LiveQueryHandler
	cancel      context.CancelFunc
	liveQueryID string
}

// NewSurrealLiveQueryService creates a live query service on conn.
func NewSurrealLiveQueryService(conn DBConnection) *SurrealLiveQueryService {
	return &SurrealLiveQueryService{conn: conn}
}

// Subscribe starts LIVE SELECT on table.
func (s *SurrealLiveQueryService) Subscribe(ctx context.Context, table string, filter *LiveQueryFilter, handler LiveQueryHandler) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	fields := "*"
	params := map[string]any{}
	if filter != nil {
		if len(filter.Fields) > 0 {
			fields = strings.Join(filter.Fields, ", ")
		}
		if filter.Params != nil {
			params = filter.Params
		}
	}

	query := fmt.Sprintf("LIVE SELECT %s FROM %s", fields, table)
	if filter != nil && filter.Where != "" {
		query = fmt.Sprintf("%s WHERE %s", query, filter.Where)
	}

	return s.subscribeQuery(ctx, table, query, params, handler)
}

func (s *SurrealLiveQueryService) subscribeQuery(ctx context.Context, table, query string, params map[string]any, handler LiveQueryHandler) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(context.Background())
	state := &subscriptionState{
		id:      uuid.NewString(),
		table:   table,
		handler: handler,
		cancel:  cancel,
	}

	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		results, err := surrealdb.Query[any](ctx, db, query, params)
		if err != nil {
			return fmt.Errorf("execute live query: %w", err)
		}
		if results == nil || len(*results) == 0 {
			return fmt.Errorf("live query returned no results")
		}

		result := (*results)[0]
		if result.Status != "OK" {
			return fmt.Errorf("live query failed with status: %s", result.Status)
		}

		id, err := liveQueryID(result.Result)
		if err != nil {
			return err
		}
		state.liveQueryID = id

		notifications, err := db.LiveNotifications(id)
		if err != nil {
			return fmt.Errorf("get notification channel: %w", err)
		}

		go s.listen(subCtx, state, notifications)
		go s.killOnCancel(subCtx, db, id)
		return nil
	})
	if err != nil {
		cancel()
		return nil, WrapError(err, "start live query on "+table)
	}

	s.subscriptions.Store(state.id, state)
	slog.InfoContext(ctx, "Live query established", "sub_id", state.id, "table", table, "live_query_id", state.liveQueryID)
	return &Subscription{ID: state.id, Table: table}, nil
}

func liveQueryID(v any) (string, error) {
	switch id := v.(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case models.UUID:
		return id.String(), nil
	case *models.UUID:
		if id != nil {
			return id.String(), nil
		}
	}
	return "", fmt.Errorf("unexpected live query id %T: %+v", v, v)
}

func (s *SurrealLiveQueryService) killOnCancel(ctx context.Context, db *surrealdb.DB, id string) {
	<-ctx.Done()

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.CloseLiveNotifications(id); err != nil {
		slog.Warn("Failed to close live notifications", "error", err, "live_query_id", id)
	}
	if err := Execute(cleanupCtx, db, "KILL $id", map[string]any{"id": id}); err != nil {
		slog.Warn("Failed to kill live query", "error", err, "live_query_id", id)
		return
	}
	slog.Debug("Killed live query", "live_query_id", id)
}

// Unsubscribe stops a subscription. Unknown ids are ignored.
func (s *SurrealLiveQueryService) Unsubscribe(subID string) error {
	if v, ok := s.subscriptions.LoadAndDelete(subID); ok {
		v.(*subscriptionState).cancel()
		slog.Info("Live query subscription removed", "sub_id", subID)
	}
	return nil
}

func (s *SurrealLiveQueryService) listen(ctx context.Context, state *subscriptionState, notifications <-chan connection.Notification) {
	defer s.subscriptions.Delete(state.id)

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				slog.Debug("Live query notification channel closed", "sub_id", state.id)
				return
			}

			var action LiveQueryAction
			switch n.Action {
			case connection.CreateAction:
				action = ActionCreate
			case connection.UpdateAction:
				action = ActionUpdate
			case connection.DeleteAction:
				action = ActionDelete
			default:
				slog.Warn("Unknown live query action", "sub_id", state.id, "action", n.Action)
				continue
			}
			s.dispatch(ctx, state, action, n.Result)
		}
	}
}

func (s *SurrealLiveQueryService) dispatch(ctx context.Context, state *subscriptionState, action LiveQueryAction, data any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in live query handler", "sub_id", state.id, "panic", r)
		}
	}()
	state.handler(ctx, action, data)
}
