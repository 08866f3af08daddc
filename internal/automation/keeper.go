package automation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Kwenta/smart-margin-sub002/internal/auth"
	"github.com/Kwenta/smart-margin-sub002/internal/observability"
)

// TaskHandle is the opaque reference an account keeps so it can deregister
// a task when the underlying order is cancelled or filled.
type TaskHandle string

var ErrTaskNotFound = errors.New("automation task not found")

// Task binds one registered callback to an account's conditional order.
type Task struct {
	Handle       TaskHandle
	AccountID    uuid.UUID
	OrderID      uint64
	RegisteredAt time.Time
}

// Executor is the callback surface the keeper drives: a side-effect-free
// predicate and an execution entry point that re-validates it.
type Executor interface {
	// CheckOrder reports whether the order is currently executable.
	CheckOrder(accountID uuid.UUID, orderID uint64) (bool, error)

	// ExecuteOrder executes the order as the given keeper identity.
	ExecuteOrder(ctx context.Context, keeper auth.Principal, accountID uuid.UUID, orderID uint64) error
}

// Keeper is the in-process automation collaborator: accounts register tasks
// against it, and its poller periodically evaluates each task's predicate and
// submits the triggering call. Execution fees are quoted up front and paid in
// the account's native gas balance.
type Keeper struct {
	mu    sync.Mutex
	tasks map[TaskHandle]Task

	identity  auth.Principal
	feeAmount int64
	feeAsset  string

	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewKeeper(identity auth.Principal, feeAmount int64, feeAsset string, log zerolog.Logger, metrics *observability.Metrics) *Keeper {
	return &Keeper{
		tasks:     make(map[TaskHandle]Task),
		identity:  identity,
		feeAmount: feeAmount,
		feeAsset:  feeAsset,
		log:       log,
		metrics:   metrics,
	}
}

// Identity is the principal the keeper uses when calling execution entry
// points. Accounts accept conditional-order executions from it and nobody
// else.
func (k *Keeper) Identity() auth.Principal {
	return k.identity
}

// RegisterTask binds a callback task to an account order and returns its
// handle.
func (k *Keeper) RegisterTask(accountID uuid.UUID, orderID uint64) (TaskHandle, error) {
	handle := TaskHandle(uuid.NewString())

	k.mu.Lock()
	k.tasks[handle] = Task{
		Handle:       handle,
		AccountID:    accountID,
		OrderID:      orderID,
		RegisteredAt: time.Now(),
	}
	taskCount := len(k.tasks)
	k.mu.Unlock()

	if k.metrics != nil {
		k.metrics.KeeperTasks.Set(float64(taskCount))
	}
	return handle, nil
}

// CancelTask deregisters a task. Cancelling an unknown handle is a typed
// error so accounts notice double-deregistration bugs.
func (k *Keeper) CancelTask(handle TaskHandle) error {
	k.mu.Lock()
	_, ok := k.tasks[handle]
	if ok {
		delete(k.tasks, handle)
	}
	taskCount := len(k.tasks)
	k.mu.Unlock()

	if !ok {
		return ErrTaskNotFound
	}
	if k.metrics != nil {
		k.metrics.KeeperTasks.Set(float64(taskCount))
	}
	return nil
}

// QuoteFee returns the execution fee the keeper charges, and the asset it is
// paid in.
func (k *Keeper) QuoteFee() (int64, string) {
	return k.feeAmount, k.feeAsset
}

// Tasks returns a stable-ordered copy of the registered tasks.
func (k *Keeper) Tasks() []Task {
	k.mu.Lock()
	out := make([]Task, 0, len(k.tasks))
	for _, t := range k.tasks {
		out = append(out, t)
	}
	k.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID.String() < out[j].AccountID.String()
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out
}

// RunPoller sweeps the task registry on a fixed interval, checking each
// task's predicate and executing the ones that pass. Runs until ctx is done.
//
// The account makes no liveness guarantee; retry and abandonment live here.
// A task whose order has reached a terminal state is dropped, everything
// else is retried on the next sweep.
func (k *Keeper) RunPoller(ctx context.Context, exec Executor, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			k.sweep(ctx, exec)
		}
	}
}

func (k *Keeper) sweep(ctx context.Context, exec Executor) {
	start := time.Now()

	// Iterate a copy: executing an order deregisters its task re-entrantly.
	for _, task := range k.Tasks() {
		if ctx.Err() != nil {
			return
		}

		canExec, err := exec.CheckOrder(task.AccountID, task.OrderID)
		if k.metrics != nil {
			k.metrics.KeeperChecks.Inc()
		}
		if err != nil {
			// Order gone or terminal — drop the task.
			k.log.Warn().
				Str("account_id", task.AccountID.String()).
				Uint64("order_id", task.OrderID).
				Err(err).
				Msg("dropping task: checker failed")
			_ = k.CancelTask(task.Handle)
			continue
		}
		if !canExec {
			continue
		}

		if err := exec.ExecuteOrder(ctx, k.identity, task.AccountID, task.OrderID); err != nil {
			if k.metrics != nil {
				k.metrics.KeeperExecutions.WithLabelValues("error").Inc()
			}
			k.log.Warn().
				Str("account_id", task.AccountID.String()).
				Uint64("order_id", task.OrderID).
				Err(err).
				Msg("conditional order execution failed; will retry")
			continue
		}

		if k.metrics != nil {
			k.metrics.KeeperExecutions.WithLabelValues("ok").Inc()
		}
		k.log.Info().
			Str("account_id", task.AccountID.String()).
			Uint64("order_id", task.OrderID).
			Msg("conditional order executed")
	}

	if k.metrics != nil {
		k.metrics.KeeperPollDur.Observe(time.Since(start).Seconds())
	}
}
