package sharing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/podshare/podshare-go/internal/platform/cache"
	"github.com/podshare/podshare-go/internal/platform/logutil"
	"github.com/podshare/podshare-go/internal/store"
)

// Home types (and, one-to-one, resource kinds).
const (
	HomeTypeCalendar    = "calendar"
	HomeTypeAddressBook = "addressbook"
)

// shareCreateAttempts bounds the bind-insert sub-transaction retry loop.
const shareCreateAttempts = 3

// Hooks let the application layer observe sharing transitions.
type Hooks struct {
	// NewShare runs when a share first becomes live for a sharee view
	// (direct creation or first acceptance), with the optional display name.
	NewShare func(ctx context.Context, tx store.Tx, v *ChildView, displayName string) error

	// FirstAccept runs when a resource gains its first accepted sharee.
	FirstAccept func(ctx context.Context, tx store.Tx, v *ChildView) error

	// HomeChanged observes change notifications raised on a home. It runs
	// after the owning transaction commits.
	HomeChanged func(uid string)
}

// Options configures an Engine.
type Options struct {
	// Cache memoizes bind-record lookups; nil disables caching.
	Cache cache.Cache

	// Conduit reaches federated peers; nil is valid for single-pod
	// deployments, where any federated operation fails with ErrNoConduit.
	Conduit Conduit

	// Notifications is the inbox channel; defaults to the store-backed one.
	Notifications NotificationChannel

	Hooks  Hooks
	Logger *slog.Logger
}

// Engine is the sharing coordination engine of one pod. It owns the bind
// state machine, the per-home child indexes, and the decision between local
// and federated side-effect delivery.
type Engine struct {
	st       store.Store
	dir      Directory
	cache    cache.Cache
	conduit  Conduit
	notifier NotificationChannel
	hooks    Hooks
	logger   *slog.Logger

	mu    sync.Mutex
	homes map[string]*Home
}

// NewEngine creates a sharing engine over the given store and directory.
func NewEngine(st store.Store, dir Directory, opts Options) *Engine {
	notifier := opts.Notifications
	if notifier == nil {
		notifier = NewInboxChannel(opts.Logger)
	}
	return &Engine{
		st:       st,
		dir:      dir,
		cache:    opts.Cache,
		conduit:  opts.Conduit,
		notifier: notifier,
		hooks:    opts.Hooks,
		logger:   logutil.NoopIfNil(opts.Logger),
		homes:    make(map[string]*Home),
	}
}

// Store exposes the engine's persistence backend.
func (e *Engine) Store() store.Store { return e.st }

// InTransaction runs fn inside one storage transaction. Every sharing
// operation below expects to be called with the transaction handle it
// yields; after-commit callbacks registered during fn (deferred cache
// invalidation, home-change hooks) run only when the commit succeeds.
func (e *Engine) InTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return e.st.InTransaction(ctx, fn)
}

// HomeWithUID resolves a principal's home, creating it when create is set.
// Newly created homes are marked external when the directory places the
// principal on another pod. Returns nil without error when the home does
// not exist and create is false.
func (e *Engine) HomeWithUID(ctx context.Context, tx store.Tx, homeType, uid string, create bool) (*Home, error) {
	key := homeType + "/" + uid
	e.mu.Lock()
	if h, ok := e.homes[key]; ok {
		e.mu.Unlock()
		return h, nil
	}
	e.mu.Unlock()

	rec, err := tx.Homes().ByUID(ctx, homeType, uid)
	if errors.Is(err, store.ErrNotFound) {
		if !create {
			return nil, nil
		}
		rec = &store.Home{
			HomeType: homeType,
			UID:      uid,
			External: e.dir.IsExternal(uid),
		}
		if err := tx.Homes().Insert(ctx, rec); err != nil {
			// Lost a creation race: someone else made this home.
			if !errors.Is(err, store.ErrAlreadyExists) {
				return nil, fmt.Errorf("create home %q: %w", uid, err)
			}
			rec, err = tx.Homes().ByUID(ctx, homeType, uid)
			if err != nil {
				return nil, err
			}
		} else {
			// The home row is this transaction's own write; drop the wrapper
			// if that write never commits.
			tx.AfterRollback(func() { e.unregisterHome(homeType, uid) })
		}
	} else if err != nil {
		return nil, err
	}

	return e.registerHome(rec), nil
}

// homeForID resolves a home wrapper by its numeric id.
func (e *Engine) homeForID(ctx context.Context, tx store.Tx, id int64) (*Home, error) {
	e.mu.Lock()
	for _, h := range e.homes {
		if h.ID() == id {
			e.mu.Unlock()
			return h, nil
		}
	}
	e.mu.Unlock()

	rec, err := tx.Homes().ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.registerHome(rec), nil
}

// registerHome wraps a home record, deduplicating on (type, uid) so the
// in-memory child index stays singular per home.
func (e *Engine) registerHome(rec *store.Home) *Home {
	key := rec.HomeType + "/" + rec.UID
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.homes[key]; ok {
		return h
	}
	h := &Home{
		eng:    e,
		rec:    rec,
		byName: make(map[string]*ChildView),
		byID:   make(map[int64]*ChildView),
	}
	e.homes[key] = h
	return h
}

func (e *Engine) unregisterHome(homeType, uid string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.homes, homeType+"/"+uid)
}

// newShareName generates the default name for a new share.
func newShareName() string {
	return uuid.NewString()
}
