package access

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nostrmail/relay/lib/kinds"
)

// bypassKinds are the event kinds the application's bridge bots may publish
// without a prior AUTH round trip: profile metadata, plain notes and
// encrypted direct messages.
var bypassKinds = map[int]struct{}{
	kinds.KindMetadata:      {},
	kinds.KindTextNote:      {},
	kinds.KindDirectMessage: {},
}

// Policy holds the pubkey sets the surrounding application grants special
// privileges to. It is populated at process start from the relational store
// and mutated by the registration flow afterwards; reads happen on the hot
// broadcast/auth paths so the sets are lock-free.
type Policy struct {
	allowed    *xsync.MapOf[string, struct{}]
	mirrorBots *xsync.MapOf[string, struct{}]
	outboxBots *xsync.MapOf[string, struct{}]
}

func NewPolicy() *Policy {
	return &Policy{
		allowed:    xsync.NewMapOf[string, struct{}](),
		mirrorBots: xsync.NewMapOf[string, struct{}](),
		outboxBots: xsync.NewMapOf[string, struct{}](),
	}
}

// AllowPubkey marks a pubkey as eligible to authenticate.
func (p *Policy) AllowPubkey(pubkey string) {
	p.allowed.Store(pubkey, struct{}{})
}

// RevokePubkey removes a pubkey from the authentication set. Connections
// already authenticated with it are unaffected.
func (p *Policy) RevokePubkey(pubkey string) {
	p.allowed.Delete(pubkey)
}

// IsAllowed reports whether a pubkey may authenticate.
func (p *Policy) IsAllowed(pubkey string) bool {
	_, ok := p.allowed.Load(pubkey)
	return ok
}

// AddMirrorBot registers a system pubkey that mirrors inbound email into
// the relay.
func (p *Policy) AddMirrorBot(pubkey string) {
	p.mirrorBots.Store(pubkey, struct{}{})
}

func (p *Policy) RemoveMirrorBot(pubkey string) {
	p.mirrorBots.Delete(pubkey)
}

func (p *Policy) IsMirrorBot(pubkey string) bool {
	_, ok := p.mirrorBots.Load(pubkey)
	return ok
}

// AddOutboxBot registers a system pubkey that carries direct messages out
// to email.
func (p *Policy) AddOutboxBot(pubkey string) {
	p.outboxBots.Store(pubkey, struct{}{})
}

func (p *Policy) RemoveOutboxBot(pubkey string) {
	p.outboxBots.Delete(pubkey)
}

func (p *Policy) IsOutboxBot(pubkey string) bool {
	_, ok := p.outboxBots.Load(pubkey)
	return ok
}

// IsBridgeBot reports whether a pubkey belongs to either bridge-bot set.
func (p *Policy) IsBridgeBot(pubkey string) bool {
	return p.IsMirrorBot(pubkey) || p.IsOutboxBot(pubkey)
}

// CanBypassAuth reports whether an unauthenticated connection may publish
// an event: only bridge bots, and only for the bypass kinds.
func (p *Policy) CanBypassAuth(kind int, pubkey string) bool {
	if _, ok := bypassKinds[kind]; !ok {
		return false
	}
	return p.IsBridgeBot(pubkey)
}
