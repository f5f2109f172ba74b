package federation

import (
	"context"
	"fmt"

	"github.com/podshare/podshare-go/internal/sharing"
)

// LoopbackConduit routes conduit messages between in-process pods by UID
// domain, with no transport in between. Useful for tests and single-binary
// multi-pod setups.
type LoopbackConduit struct {
	routers map[string]*Router
}

var _ sharing.Conduit = (*LoopbackConduit)(nil)

// NewLoopbackConduit creates an empty loopback conduit; pods attach to it
// with Attach once their routers exist.
func NewLoopbackConduit() *LoopbackConduit {
	return &LoopbackConduit{routers: make(map[string]*Router)}
}

// Attach registers the router serving the given UID domain.
func (c *LoopbackConduit) Attach(domain string, router *Router) {
	c.routers[domain] = router
}

func (c *LoopbackConduit) routerFor(domain string) (*Router, error) {
	router, ok := c.routers[domain]
	if !ok {
		return nil, fmt.Errorf("%w: no pod for domain %q", sharing.ErrNoConduit, domain)
	}
	return router, nil
}

// SendShareInvite implements sharing.Conduit.
func (c *LoopbackConduit) SendShareInvite(ctx context.Context, msg *sharing.ShareInviteMessage) error {
	router, err := c.routerFor(sharing.UIDDomain(msg.ShareeUID))
	if err != nil {
		return err
	}
	return router.ProcessExternalInvite(ctx, msg)
}

// SendShareUninvite implements sharing.Conduit.
func (c *LoopbackConduit) SendShareUninvite(ctx context.Context, msg *sharing.ShareUninviteMessage) error {
	router, err := c.routerFor(sharing.UIDDomain(msg.ShareeUID))
	if err != nil {
		return err
	}
	return router.ProcessExternalUninvite(ctx, msg)
}

// SendShareReply implements sharing.Conduit.
func (c *LoopbackConduit) SendShareReply(ctx context.Context, msg *sharing.ShareReplyMessage) error {
	router, err := c.routerFor(sharing.UIDDomain(msg.OwnerUID))
	if err != nil {
		return err
	}
	return router.ProcessExternalReply(ctx, msg)
}
