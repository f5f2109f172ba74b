package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/podshare/podshare-go/internal/sharing"
)

// Peer is one federated pod this pod can deliver conduit messages to.
type Peer struct {
	// Domain is the UID domain the peer hosts (the part after "@").
	Domain string

	// BaseURL is the peer's conduit base, e.g. "https://pod-b.example.com".
	BaseURL string

	// Secret is the shared secret presented on every request to this peer.
	Secret string
}

// HTTPConduit delivers conduit messages to federated peers over HTTP. The
// target peer is chosen by the UID domain of whichever principal is remote
// for the message kind: the sharee for invites and uninvites, the owner for
// replies.
type HTTPConduit struct {
	client *http.Client
	peers  map[string]Peer
}

var _ sharing.Conduit = (*HTTPConduit)(nil)

// NewHTTPConduit creates a conduit over the given peer table. A nil client
// gets a default with a conservative timeout.
func NewHTTPConduit(client *http.Client, peers []Peer) *HTTPConduit {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	table := make(map[string]Peer, len(peers))
	for _, p := range peers {
		table[p.Domain] = p
	}
	return &HTTPConduit{client: client, peers: table}
}

// SendShareInvite implements sharing.Conduit.
func (c *HTTPConduit) SendShareInvite(ctx context.Context, msg *sharing.ShareInviteMessage) error {
	return c.post(ctx, sharing.UIDDomain(msg.ShareeUID), "invite", msg)
}

// SendShareUninvite implements sharing.Conduit.
func (c *HTTPConduit) SendShareUninvite(ctx context.Context, msg *sharing.ShareUninviteMessage) error {
	return c.post(ctx, sharing.UIDDomain(msg.ShareeUID), "uninvite", msg)
}

// SendShareReply implements sharing.Conduit.
func (c *HTTPConduit) SendShareReply(ctx context.Context, msg *sharing.ShareReplyMessage) error {
	return c.post(ctx, sharing.UIDDomain(msg.OwnerUID), "reply", msg)
}

func (c *HTTPConduit) post(ctx context.Context, domain, action string, msg any) error {
	peer, ok := c.peers[domain]
	if !ok {
		return fmt.Errorf("%w: no peer for domain %q", sharing.ErrNoConduit, domain)
	}

	endpoint, err := url.JoinPath(peer.BaseURL, "conduit", action)
	if err != nil {
		return fmt.Errorf("build conduit URL for %q: %w", peer.Domain, err)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode conduit %s: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(peerSecretHeader, peer.Secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("conduit %s to %q: %w", action, peer.Domain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: peer %q rejected %s with status %d: %s",
			sharing.ErrExternalShareFailed, peer.Domain, action, resp.StatusCode, string(respBody))
	}
	return nil
}
