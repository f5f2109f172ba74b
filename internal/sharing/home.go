package sharing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/podshare/podshare-go/internal/platform/cache"
	"github.com/podshare/podshare-go/internal/store"
)

// Home wraps a principal's home record together with the in-memory index of
// its active (accepted or owned) children. The index is keyed by both name
// and resource id and is mutated only by the state-machine transition
// functions; callers must never poke it directly or it will diverge from
// persisted bind status.
type Home struct {
	eng *Engine
	rec *store.Home

	mu     sync.Mutex
	loaded bool
	byName map[string]*ChildView
	byID   map[int64]*ChildView
}

func (h *Home) ID() int64      { return h.rec.ID }
func (h *Home) UID() string    { return h.rec.UID }
func (h *Home) Type() string   { return h.rec.HomeType }
func (h *Home) External() bool { return h.rec.External }

// viewFor builds a child view of this home over the given bind and resource.
func (h *Home) viewFor(bind *store.BindRecord, res *store.Resource) *ChildView {
	return &ChildView{eng: h.eng, home: h, res: res, bind: bind}
}

// ensureChildren lazily loads the active child index from the store.
func (h *Home) ensureChildren(ctx context.Context, tx store.Tx) error {
	h.mu.Lock()
	loaded := h.loaded
	h.mu.Unlock()
	if loaded {
		return nil
	}

	binds, err := tx.Binds().AcceptedForHome(ctx, h.ID())
	if err != nil {
		return fmt.Errorf("load children for home %q: %w", h.UID(), err)
	}

	views := make([]*ChildView, 0, len(binds))
	for _, bind := range binds {
		res, err := tx.Resources().ByID(ctx, bind.ResourceID)
		if err != nil {
			return err
		}
		views = append(views, h.viewFor(bind, res))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loaded {
		return nil
	}
	for _, v := range views {
		h.byName[v.Name()] = v
		h.byID[v.ID()] = v
	}
	h.loaded = true
	return nil
}

// insertChild adds a view to the active index under both keys.
func (h *Home) insertChild(v *ChildView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byName[v.Name()] = v
	h.byID[v.ID()] = v
}

// evictChild removes a view from the active index under both keys.
func (h *Home) evictChild(name string, resourceID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byName, name)
	delete(h.byID, resourceID)
}

// invalidate drops the child index so the next reader reloads it from
// committed state. The index and the view instances it holds are mutated in
// place during a transaction; a rollback makes both stale.
func (h *Home) invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loaded = false
	h.byName = make(map[string]*ChildView)
	h.byID = make(map[int64]*ChildView)
}

// Child returns the active (owned or accepted) child with the given name.
func (h *Home) Child(ctx context.Context, tx store.Tx, name string) (*ChildView, error) {
	if err := h.ensureChildren(ctx, tx); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.byName[name], nil
}

// ChildByID returns the active child with the given resource id.
func (h *Home) ChildByID(ctx context.Context, tx store.Tx, resourceID int64) (*ChildView, error) {
	if err := h.ensureChildren(ctx, tx); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.byID[resourceID], nil
}

// AnyChildWithID returns a child of this home regardless of bind status.
func (h *Home) AnyChildWithID(ctx context.Context, tx store.Tx, resourceID int64) (*ChildView, error) {
	bind, err := tx.Binds().ByResourceAndHome(ctx, resourceID, h.ID())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return h.materialize(ctx, tx, bind)
}

// AnyChildWithShareUID returns the shared child bound under the given share
// UID (bind name), regardless of status. Owner binds never match.
func (h *Home) AnyChildWithShareUID(ctx context.Context, tx store.Tx, shareUID string) (*ChildView, error) {
	bind, err := h.bindByName(ctx, tx, shareUID)
	if err != nil || bind == nil {
		return nil, err
	}
	if bind.Mode == store.BindModeOwn {
		return nil, nil
	}
	return h.materialize(ctx, tx, bind)
}

// ChildByName returns any child bound under the given name, including the
// home's own collections.
func (h *Home) ChildByName(ctx context.Context, tx store.Tx, name string) (*ChildView, error) {
	bind, err := h.bindByName(ctx, tx, name)
	if err != nil || bind == nil {
		return nil, err
	}
	return h.materialize(ctx, tx, bind)
}

// ChildByExternalID returns the child whose resource is identified on the
// owning peer by externalID.
func (h *Home) ChildByExternalID(ctx context.Context, tx store.Tx, externalID int64) (*ChildView, error) {
	bind, err := tx.Binds().ByExternalIDAndHome(ctx, externalID, h.ID())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return h.materialize(ctx, tx, bind)
}

// bindByName is the cached bind-by-(home, name) lookup.
func (h *Home) bindByName(ctx context.Context, tx store.Tx, name string) (*store.BindRecord, error) {
	key := keyForObjectWithName(h.ID(), name)
	if h.eng.cache != nil {
		if raw, err := h.eng.cache.Get(ctx, key); err == nil {
			var bind store.BindRecord
			if err := json.Unmarshal(raw, &bind); err == nil {
				return &bind, nil
			}
		}
	}

	bind, err := tx.Binds().ByNameAndHome(ctx, name, h.ID())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Populate the cache only once the transaction commits: a row read here
	// may be an uncommitted write of this very transaction.
	if h.eng.cache != nil {
		if raw, err := json.Marshal(bind); err == nil {
			c := h.eng.cache
			tx.AfterCommit(func() {
				_ = c.Set(context.Background(), key, raw, cache.TTLQueryResult)
			})
		}
	}
	return bind, nil
}

// materialize resolves the bind's resource and wraps both in a view,
// preferring the already-indexed instance so in-memory mutations stay
// visible to every caller.
func (h *Home) materialize(ctx context.Context, tx store.Tx, bind *store.BindRecord) (*ChildView, error) {
	h.mu.Lock()
	if v, ok := h.byID[bind.ResourceID]; ok {
		h.mu.Unlock()
		return v, nil
	}
	h.mu.Unlock()

	res, err := tx.Resources().ByID(ctx, bind.ResourceID)
	if err != nil {
		return nil, err
	}
	return h.viewFor(bind, res), nil
}

// CreateChild creates an owned collection in this home. externalID is the
// peer-side resource id for shadow collections, zero otherwise. A name
// collision with an existing child yields ErrNameConflict.
func (h *Home) CreateChild(ctx context.Context, tx store.Tx, name string, externalID int64) (*ChildView, error) {
	res := &store.Resource{Kind: h.Type()}
	if err := tx.Resources().Insert(ctx, res); err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	bind := &store.BindRecord{
		HomeResourceID: h.ID(),
		ResourceID:     res.ID,
		ExternalID:     externalID,
		Name:           name,
		Mode:           store.BindModeOwn,
	}
	if err := tx.Binds().Insert(ctx, bind); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %q in home %q", ErrNameConflict, name, h.UID())
		}
		return nil, fmt.Errorf("create own bind: %w", err)
	}

	v := h.viewFor(bind, res)
	if err := h.ensureChildren(ctx, tx); err != nil {
		return nil, err
	}
	h.insertChild(v)
	h.notifyChanged(tx)
	return v, nil
}

// RemoveExternalChild deletes a shadow collection and its bookkeeping.
// Callers must ensure no live invitations reference it.
func (h *Home) RemoveExternalChild(ctx context.Context, tx store.Tx, v *ChildView) error {
	if !h.External() {
		return fmt.Errorf("%w: home %q is not external", ErrExternalShareFailed, h.UID())
	}

	h.evictChild(v.Name(), v.ID())
	v.invalidateQueryCache(tx)
	h.notifyChanged(tx)

	if err := tx.Binds().Delete(ctx, v.ID(), h.ID()); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := tx.Revisions().DeleteForResource(ctx, v.ID()); err != nil {
		return err
	}
	if err := tx.Properties().DeleteForResource(ctx, v.ID()); err != nil {
		return err
	}
	if err := tx.Resources().Delete(ctx, v.ID()); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// notifyChanged raises a change notification on this home: deferred cache
// invalidation plus the application hook after commit, and a child-index
// reset after rollback so eager index mutations never outlive a transaction
// that failed.
func (h *Home) notifyChanged(tx store.Tx) {
	eng := h.eng
	uid := h.UID()
	id := h.ID()
	tx.AfterCommit(func() {
		if eng.cache != nil {
			_ = eng.cache.Delete(context.Background(), keyForHomeChildren(id))
		}
		if eng.hooks.HomeChanged != nil {
			eng.hooks.HomeChanged(uid)
		}
	})
	tx.AfterRollback(h.invalidate)
}

// Query-cache keys, one per lookup shape.
func keyForHomeChildren(homeID int64) string {
	return fmt.Sprintf("home:%d:children", homeID)
}

func keyForObjectWithName(homeID int64, name string) string {
	return fmt.Sprintf("home:%d:name:%s", homeID, name)
}

func keyForObjectWithID(homeID, resourceID int64) string {
	return fmt.Sprintf("home:%d:rid:%d", homeID, resourceID)
}

func keyForObjectWithExternalID(homeID, externalID int64) string {
	return fmt.Sprintf("home:%d:xid:%d", homeID, externalID)
}

func keyForChildMetadata(resourceID int64) string {
	return fmt.Sprintf("child:%d:meta", resourceID)
}
