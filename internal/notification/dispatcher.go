package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"peaceseal.io/herald/internal/pkg/logger"
	"peaceseal.io/herald/internal/pkg/worker"
)

// Creator writes a single-recipient notification. *Writer implements it.
type Creator interface {
	Create(ctx context.Context, in CreateInput) (Created, error)
}

// Submitter runs a task asynchronously. *worker.Pool implements it.
type Submitter interface {
	Submit(ctx context.Context, task worker.Task) error
}

// BroadcastResult summarizes one fan-out. Recipients are independent: a
// failure for one never blocks or rolls back another.
type BroadcastResult struct {
	Recipients int
	Delivered  int
	Failed     int
	IDs        []string
	// Err joins every per-recipient failure, nil when all succeeded.
	Err error
}

// ExpandRoles returns the roles a broadcast to role reaches. Higher roles
// see everything addressed to lower staff roles.
func ExpandRoles(role string) []string {
	switch role {
	case RoleModerator:
		return []string{RoleModerator, RoleAdmin, RoleSuperAdmin}
	case RoleAdmin:
		return []string{RoleAdmin, RoleSuperAdmin}
	default:
		return []string{role}
	}
}

// Dispatcher resolves a role into recipients and writes one record each.
type Dispatcher struct {
	creator   Creator
	directory Directory
	pool      Submitter
}

// NewDispatcher creates a dispatcher. A nil pool writes recipients one by one
// on the calling goroutine.
func NewDispatcher(creator Creator, directory Directory, pool Submitter) *Dispatcher {
	return &Dispatcher{creator: creator, directory: directory, pool: pool}
}

// Broadcast writes payload to every user holding a role in ExpandRoles(role).
// payload.UserID is ignored. The returned error is non-nil only when the
// request is invalid or recipients cannot be resolved.
func (d *Dispatcher) Broadcast(ctx context.Context, role string, payload CreateInput) (BroadcastResult, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return BroadcastResult{}, &ValidationError{Fields: map[string]string{"broadcastRole": "required"}}
	}

	userIDs, err := d.directory.ListUserIDsByRoles(ctx, ExpandRoles(role))
	if err != nil {
		return BroadcastResult{}, fmt.Errorf("resolve broadcast recipients for role %s: %w", role, err)
	}

	res := BroadcastResult{Recipients: len(userIDs), IDs: make([]string, 0, len(userIDs))}
	if len(userIDs) == 0 {
		logger.From(ctx).Info("broadcast has no recipients", zap.String("role", role))
		return res, nil
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
	)
	record := func(userID string, created Created, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("recipient %s: %w", userID, err))
			return
		}
		res.Delivered++
		res.IDs = append(res.IDs, created.ID)
	}

	// Once recipients are resolved every write is attempted, even if the
	// caller disconnects. The pool skips tasks whose context is already done.
	fanCtx := context.WithoutCancel(ctx)
	for _, userID := range userIDs {
		in := payload
		in.UserID = userID

		if d.pool == nil {
			created, err := d.creator.Create(fanCtx, in)
			record(userID, created, err)
			continue
		}

		wg.Add(1)
		err := d.pool.Submit(fanCtx, func(taskCtx context.Context) {
			defer wg.Done()
			created, err := d.creator.Create(taskCtx, in)
			record(in.UserID, created, err)
		})
		if err != nil {
			wg.Done()
			record(userID, Created{}, fmt.Errorf("submit fan-out task: %w", err))
		}
	}
	wg.Wait()

	res.Err = errors.Join(errs...)
	if res.Failed > 0 {
		logger.From(ctx).Error("broadcast partially failed",
			zap.String("role", role),
			zap.Int("recipients", res.Recipients),
			zap.Int("failed", res.Failed),
			zap.Error(res.Err),
		)
	}
	return res, nil
}
