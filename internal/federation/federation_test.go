package federation_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/podshare/podshare-go/internal/federation"
	"github.com/podshare/podshare-go/internal/sharing"
	"github.com/podshare/podshare-go/internal/store"
	_ "github.com/podshare/podshare-go/internal/store/sqlite"
)

const (
	domainA = "pod-a.example.com"
	domainB = "pod-b.example.com"

	ownerUID  = "alice@pod-a.example.com"
	shareeUID = "bob@pod-b.example.com"
)

type pod struct {
	eng    *sharing.Engine
	router *federation.Router
}

func newPod(t *testing.T, domain string, conduit sharing.Conduit) *pod {
	t.Helper()
	st, err := store.New(&store.DriverConfig{
		Driver:  "sqlite",
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("create store for %s: %v", domain, err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("init store for %s: %v", domain, err)
	}
	t.Cleanup(func() { st.Close() })

	dir := sharing.NewOriginDirectory("https://" + domain)
	eng := sharing.NewEngine(st, dir, sharing.Options{Conduit: conduit})
	return &pod{eng: eng, router: federation.NewRouter(eng, dir, nil)}
}

// newFederation wires two pods together over an in-process conduit.
func newFederation(t *testing.T) (*pod, *pod) {
	t.Helper()
	lb := federation.NewLoopbackConduit()
	a := newPod(t, domainA, lb)
	b := newPod(t, domainB, lb)
	lb.Attach(domainA, a.router)
	lb.Attach(domainB, b.router)
	return a, b
}

func inTx(t *testing.T, eng *sharing.Engine, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	if err := eng.InTransaction(context.Background(), fn); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

// inviteAcross shares alice's "work" calendar with bob on the other pod and
// returns the share UID and the owner-side resource id.
func inviteAcross(t *testing.T, a *pod) (string, int64) {
	t.Helper()
	var shareUID string
	var resourceID int64
	inTx(t, a.eng, func(ctx context.Context, tx store.Tx) error {
		home, err := a.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, ownerUID, true)
		if err != nil {
			return err
		}
		owner, err := home.CreateChild(ctx, tx, "work", 0)
		if err != nil {
			return err
		}
		resourceID = owner.ID()
		invite, err := owner.InviteUIDToShare(ctx, tx, shareeUID, store.BindModeRead, "join me", "")
		if err != nil {
			return err
		}
		shareUID = invite.UID
		return nil
	})
	return shareUID, resourceID
}

func TestFederatedInviteAcceptUninvite(t *testing.T) {
	a, b := newFederation(t)
	shareUID, resourceID := inviteAcross(t, a)

	// The sharee pod grew a shadow home and collection and an inbox invite.
	inTx(t, b.eng, func(ctx context.Context, tx store.Tx) error {
		shadowHome, err := b.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, ownerUID, false)
		if err != nil {
			return err
		}
		if shadowHome == nil || !shadowHome.External() {
			t.Fatalf("expected external shadow home for owner, got %v", shadowHome)
		}
		shadow, err := shadowHome.ChildByExternalID(ctx, tx, resourceID)
		if err != nil {
			return err
		}
		if shadow == nil {
			t.Fatal("expected shadow collection on sharee pod")
		}
		if shadow.Name() != "work" || shadow.ExternalID() != resourceID {
			t.Errorf("unexpected shadow identity: name %q external id %d", shadow.Name(), shadow.ExternalID())
		}
		return nil
	})

	n, err := b.eng.Store().Notifications().ByUID(context.Background(), shareeUID, shareUID)
	if err != nil {
		t.Fatalf("invite notification missing on sharee pod: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["owner"] != ownerUID || payload["status"] != string(store.BindStatusInvited) {
		t.Errorf("unexpected invite payload: %v", payload)
	}

	// Accepting on the sharee pod crosses the conduit back to the owner.
	inTx(t, b.eng, func(ctx context.Context, tx store.Tx) error {
		return b.eng.AcceptShareByUID(ctx, tx, sharing.HomeTypeCalendar, shareeUID, shareUID, "from bob")
	})

	inTx(t, a.eng, func(ctx context.Context, tx store.Tx) error {
		home, err := a.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, ownerUID, false)
		if err != nil {
			return err
		}
		owner, err := home.Child(ctx, tx, "work")
		if err != nil {
			return err
		}
		invites, err := owner.SharingInvites(ctx, tx)
		if err != nil {
			return err
		}
		if len(invites) != 1 || invites[0].Status != store.BindStatusAccepted {
			t.Errorf("expected accepted invitation on owner pod, got %+v", invites)
		}
		return nil
	})
	if _, err := a.eng.Store().Notifications().ByUID(context.Background(), ownerUID, shareUID+"-reply"); err != nil {
		t.Errorf("reply notification missing on owner pod: %v", err)
	}

	// The share is live in bob's index on his own pod.
	inTx(t, b.eng, func(ctx context.Context, tx store.Tx) error {
		bobHome, err := b.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, shareeUID, false)
		if err != nil {
			return err
		}
		child, err := bobHome.Child(ctx, tx, shareUID)
		if err != nil {
			return err
		}
		if child == nil || !child.Accepted() {
			t.Errorf("expected live share on sharee pod, got %v", child)
		}
		return nil
	})

	// Uninviting tears down the remote side and garbage collects the shadow.
	inTx(t, a.eng, func(ctx context.Context, tx store.Tx) error {
		home, err := a.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, ownerUID, false)
		if err != nil {
			return err
		}
		owner, err := home.Child(ctx, tx, "work")
		if err != nil {
			return err
		}
		if err := owner.UninviteUIDFromShare(ctx, tx, shareeUID); err != nil {
			return err
		}
		invites, err := owner.AllInvitations(ctx, tx)
		if err != nil {
			return err
		}
		if len(invites) != 0 {
			t.Errorf("expected no invitations on owner pod, got %+v", invites)
		}
		return nil
	})

	inTx(t, b.eng, func(ctx context.Context, tx store.Tx) error {
		shadowHome, err := b.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, ownerUID, false)
		if err != nil {
			return err
		}
		if shadow, err := shadowHome.ChildByExternalID(ctx, tx, resourceID); err != nil || shadow != nil {
			t.Errorf("expected shadow collection collected, got %v, %v", shadow, err)
		}
		return nil
	})

	n, err = b.eng.Store().Notifications().ByUID(context.Background(), shareeUID, shareUID)
	if err != nil {
		t.Fatalf("revocation notification missing on sharee pod: %v", err)
	}
	payload = nil
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["status"] != string(store.BindStatusDeleted) {
		t.Errorf("expected deleted payload status, got %v", payload["status"])
	}
}

func TestFederatedDecline(t *testing.T) {
	a, b := newFederation(t)
	shareUID, _ := inviteAcross(t, a)

	inTx(t, b.eng, func(ctx context.Context, tx store.Tx) error {
		return b.eng.DeclineShareByUID(ctx, tx, sharing.HomeTypeCalendar, shareeUID, shareUID)
	})

	inTx(t, a.eng, func(ctx context.Context, tx store.Tx) error {
		home, err := a.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, ownerUID, false)
		if err != nil {
			return err
		}
		owner, err := home.Child(ctx, tx, "work")
		if err != nil {
			return err
		}
		invites, err := owner.SharingInvites(ctx, tx)
		if err != nil {
			return err
		}
		if len(invites) != 1 || invites[0].Status != store.BindStatusDeclined {
			t.Errorf("expected declined invitation on owner pod, got %+v", invites)
		}
		return nil
	})

	inTx(t, b.eng, func(ctx context.Context, tx store.Tx) error {
		bobHome, err := b.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, shareeUID, false)
		if err != nil {
			return err
		}
		if child, err := bobHome.Child(ctx, tx, shareUID); err != nil || child != nil {
			t.Errorf("expected declined share out of sharee's index, got %v, %v", child, err)
		}
		return nil
	})
}

func TestFederatedDirectShare(t *testing.T) {
	a, b := newFederation(t)
	var shareUID string

	inTx(t, a.eng, func(ctx context.Context, tx store.Tx) error {
		home, err := a.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, ownerUID, true)
		if err != nil {
			return err
		}
		owner, err := home.CreateChild(ctx, tx, "work", 0)
		if err != nil {
			return err
		}
		sharee, err := owner.DirectShareWithUser(ctx, tx, shareeUID, "Alice's work", "")
		if err != nil {
			return err
		}
		shareUID = sharee.ShareUID()
		return nil
	})

	inTx(t, b.eng, func(ctx context.Context, tx store.Tx) error {
		bobHome, err := b.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, shareeUID, false)
		if err != nil {
			return err
		}
		child, err := bobHome.Child(ctx, tx, shareUID)
		if err != nil {
			return err
		}
		if child == nil || !child.Direct() || !child.Accepted() {
			t.Errorf("expected live direct share on sharee pod, got %v", child)
		}
		return nil
	})

	rows, err := b.eng.Store().Notifications().ByPrincipal(context.Background(), shareeUID)
	if err != nil {
		t.Fatalf("ByPrincipal: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no inbox traffic for a direct share, got %d rows", len(rows))
	}
}

func TestShadowSurvivesUninviteWhileDirectShareLive(t *testing.T) {
	a, b := newFederation(t)
	carolUID := "carol@" + domainB
	var resourceID int64
	var directUID string

	inTx(t, a.eng, func(ctx context.Context, tx store.Tx) error {
		home, err := a.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, ownerUID, true)
		if err != nil {
			return err
		}
		owner, err := home.CreateChild(ctx, tx, "work", 0)
		if err != nil {
			return err
		}
		resourceID = owner.ID()
		direct, err := owner.DirectShareWithUser(ctx, tx, shareeUID, "", "")
		if err != nil {
			return err
		}
		directUID = direct.ShareUID()
		_, err = owner.InviteUIDToShare(ctx, tx, carolUID, store.BindModeRead, "", "")
		return err
	})

	// Revoking the invited sharee must not collect the shadow while the
	// direct share is still live.
	inTx(t, a.eng, func(ctx context.Context, tx store.Tx) error {
		home, err := a.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, ownerUID, false)
		if err != nil {
			return err
		}
		owner, err := home.Child(ctx, tx, "work")
		if err != nil {
			return err
		}
		return owner.UninviteUIDFromShare(ctx, tx, carolUID)
	})

	inTx(t, b.eng, func(ctx context.Context, tx store.Tx) error {
		shadowHome, err := b.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, ownerUID, false)
		if err != nil {
			return err
		}
		shadow, err := shadowHome.ChildByExternalID(ctx, tx, resourceID)
		if err != nil {
			return err
		}
		if shadow == nil {
			t.Fatal("shadow collected while a direct share is still live")
		}

		bobHome, err := b.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, shareeUID, false)
		if err != nil {
			return err
		}
		if child, err := bobHome.Child(ctx, tx, directUID); err != nil || child == nil {
			t.Errorf("expected direct share still live on sharee pod, got %v, %v", child, err)
		}
		return nil
	})

	// Revoking the direct sharee takes the shadow with it.
	inTx(t, a.eng, func(ctx context.Context, tx store.Tx) error {
		home, err := a.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, ownerUID, false)
		if err != nil {
			return err
		}
		owner, err := home.Child(ctx, tx, "work")
		if err != nil {
			return err
		}
		return owner.UninviteUIDFromShare(ctx, tx, shareeUID)
	})

	inTx(t, b.eng, func(ctx context.Context, tx store.Tx) error {
		shadowHome, err := b.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, ownerUID, false)
		if err != nil {
			return err
		}
		if shadow, err := shadowHome.ChildByExternalID(ctx, tx, resourceID); err != nil || shadow != nil {
			t.Errorf("expected shadow collected after the last sharee, got %v, %v", shadow, err)
		}
		return nil
	})
}

func TestShadowCollisionRepair(t *testing.T) {
	_, b := newFederation(t)

	// A stale shadow: same name, different external id, no invitations.
	inTx(t, b.eng, func(ctx context.Context, tx store.Tx) error {
		home, err := b.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, ownerUID, true)
		if err != nil {
			return err
		}
		_, err = home.CreateChild(ctx, tx, "work", 101)
		return err
	})

	msg := &sharing.ShareInviteMessage{
		HomeType:     sharing.HomeTypeCalendar,
		OwnerUID:     ownerUID,
		ResourceID:   202,
		ResourceName: "work",
		ShareeUID:    shareeUID,
		ShareUID:     "share-202",
		Mode:         store.BindModeRead,
	}
	if err := b.router.ProcessExternalInvite(context.Background(), msg); err != nil {
		t.Fatalf("expected stale shadow repaired, got %v", err)
	}

	inTx(t, b.eng, func(ctx context.Context, tx store.Tx) error {
		home, err := b.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, ownerUID, false)
		if err != nil {
			return err
		}
		if shadow, err := home.ChildByExternalID(ctx, tx, 101); err != nil || shadow != nil {
			t.Errorf("expected stale shadow replaced, got %v, %v", shadow, err)
		}
		shadow, err := home.ChildByExternalID(ctx, tx, 202)
		if err != nil {
			return err
		}
		if shadow == nil {
			t.Fatal("expected repaired shadow under external id 202")
		}
		return nil
	})

	// The repaired shadow now carries a live invitation, so a further
	// colliding invite must not displace it.
	live := &sharing.ShareInviteMessage{
		HomeType:     sharing.HomeTypeCalendar,
		OwnerUID:     ownerUID,
		ResourceID:   303,
		ResourceName: "work",
		ShareeUID:    shareeUID,
		ShareUID:     "share-303",
		Mode:         store.BindModeRead,
	}
	if err := b.router.ProcessExternalInvite(context.Background(), live); !errors.Is(err, sharing.ErrNameConflict) {
		t.Errorf("expected ErrNameConflict for live shadow, got %v", err)
	}
}

func TestRouterRejectsMisroutedMessages(t *testing.T) {
	_, b := newFederation(t)

	// A sharee not hosted here cannot be invited here.
	err := b.router.ProcessExternalInvite(context.Background(), &sharing.ShareInviteMessage{
		HomeType:     sharing.HomeTypeCalendar,
		OwnerUID:     ownerUID,
		ResourceID:   1,
		ResourceName: "work",
		ShareeUID:    "carol@pod-c.example.com",
		ShareUID:     "share-1",
		Mode:         store.BindModeRead,
	})
	if !errors.Is(err, sharing.ErrExternalShareFailed) {
		t.Errorf("expected ErrExternalShareFailed for foreign sharee, got %v", err)
	}

	// An uninvite for a share that never arrived has no shadow to act on.
	err = b.router.ProcessExternalUninvite(context.Background(), &sharing.ShareUninviteMessage{
		HomeType:   sharing.HomeTypeCalendar,
		OwnerUID:   ownerUID,
		ResourceID: 1,
		ShareeUID:  shareeUID,
		ShareUID:   "share-1",
	})
	if !errors.Is(err, sharing.ErrExternalShareFailed) {
		t.Errorf("expected ErrExternalShareFailed for unknown shadow, got %v", err)
	}

	// A reply for an unknown share fails the same way.
	err = b.router.ProcessExternalReply(context.Background(), &sharing.ShareReplyMessage{
		HomeType:  sharing.HomeTypeCalendar,
		OwnerUID:  "dave@" + domainB,
		ShareeUID: "erin@" + domainA,
		ShareUID:  "share-404",
		Status:    store.BindStatusAccepted,
	})
	if !errors.Is(err, sharing.ErrExternalShareFailed) {
		t.Errorf("expected ErrExternalShareFailed for unknown reply, got %v", err)
	}
}

func TestLoopbackMissingPeer(t *testing.T) {
	a, _ := newFederation(t)

	err := a.eng.InTransaction(context.Background(), func(ctx context.Context, tx store.Tx) error {
		home, err := a.eng.HomeWithUID(ctx, tx, sharing.HomeTypeCalendar, ownerUID, true)
		if err != nil {
			return err
		}
		owner, err := home.CreateChild(ctx, tx, "work", 0)
		if err != nil {
			return err
		}
		_, err = owner.InviteUIDToShare(ctx, tx, "carol@pod-c.example.com", store.BindModeRead, "", "")
		return err
	})
	if !errors.Is(err, sharing.ErrNoConduit) {
		t.Errorf("expected ErrNoConduit for unknown peer, got %v", err)
	}
}

func TestPeerAuth(t *testing.T) {
	hash, err := federation.HashSecret("sesame")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	auth := federation.NewPeerAuth([]string{hash})

	if !auth.Verify("sesame") {
		t.Error("expected correct secret to verify")
	}
	if auth.Verify("wrong") {
		t.Error("expected wrong secret to fail")
	}
	if auth.Verify("") {
		t.Error("expected empty secret to fail")
	}
}

func TestConduitOverHTTP(t *testing.T) {
	lb := federation.NewLoopbackConduit()
	b := newPod(t, domainB, lb)

	hash, err := federation.HashSecret("sesame")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	mux := chi.NewRouter()
	federation.NewHandler(b.router, federation.NewPeerAuth([]string{hash}), nil).Mount(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Run("unauthenticated", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/conduit/invite", "application/json", strings.NewReader("{}"))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", resp.StatusCode)
		}
	})

	conduit := federation.NewHTTPConduit(srv.Client(), []federation.Peer{
		{Domain: domainB, BaseURL: srv.URL, Secret: "sesame"},
	})

	t.Run("invite delivered", func(t *testing.T) {
		err := conduit.SendShareInvite(context.Background(), &sharing.ShareInviteMessage{
			HomeType:     sharing.HomeTypeCalendar,
			OwnerUID:     ownerUID,
			ResourceID:   7,
			ResourceName: "work",
			ShareeUID:    shareeUID,
			ShareUID:     "share-7",
			Mode:         store.BindModeRead,
		})
		if err != nil {
			t.Fatalf("SendShareInvite: %v", err)
		}
		if _, lookupErr := b.eng.Store().Notifications().ByUID(context.Background(), shareeUID, "share-7"); lookupErr != nil {
			t.Errorf("invite not applied on receiving pod: %v", lookupErr)
		}
	})

	t.Run("rejected reply surfaces", func(t *testing.T) {
		err := conduit.SendShareReply(context.Background(), &sharing.ShareReplyMessage{
			HomeType:  sharing.HomeTypeCalendar,
			OwnerUID:  "dave@" + domainB,
			ShareeUID: "erin@pod-a.example.com",
			ShareUID:  "share-404",
			Status:    store.BindStatusAccepted,
		})
		if !errors.Is(err, sharing.ErrExternalShareFailed) {
			t.Errorf("expected ErrExternalShareFailed from 422 response, got %v", err)
		}
	})

	t.Run("no peer for domain", func(t *testing.T) {
		err := conduit.SendShareUninvite(context.Background(), &sharing.ShareUninviteMessage{
			HomeType:  sharing.HomeTypeCalendar,
			OwnerUID:  ownerUID,
			ShareeUID: "carol@pod-c.example.com",
			ShareUID:  "share-9",
		})
		if !errors.Is(err, sharing.ErrNoConduit) {
			t.Errorf("expected ErrNoConduit, got %v", err)
		}
	})
}
