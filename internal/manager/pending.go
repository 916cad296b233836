package manager

// pendingAssetSet tracks subscription intent for the single-connection
// manager. The three sets are disjoint: an asset is subscribed, waiting
// to subscribe, or waiting to unsubscribe, never two at once. Mutations
// are O(1) set moves; the flush timer turns accumulated intent into wire
// frames. Not safe for concurrent use; the owner locks around it.
type pendingAssetSet struct {
	subscribed   map[string]struct{}
	pendingSub   map[string]struct{}
	pendingUnsub map[string]struct{}
}

func newPendingAssetSet() *pendingAssetSet {
	return &pendingAssetSet{
		subscribed:   make(map[string]struct{}),
		pendingSub:   make(map[string]struct{}),
		pendingUnsub: make(map[string]struct{}),
	}
}

// add queues assets for subscription. An asset awaiting unsubscription
// is simply reclaimed: the pending removal is cancelled without any wire
// traffic. Already subscribed or queued assets are ignored, so rapid
// add/remove/add sequences resolve to the last operation.
func (p *pendingAssetSet) add(assetIDs []string) {
	for _, id := range assetIDs {
		if id == "" {
			continue
		}
		if _, ok := p.pendingUnsub[id]; ok {
			delete(p.pendingUnsub, id)
			p.subscribed[id] = struct{}{}
			continue
		}
		if _, ok := p.subscribed[id]; ok {
			continue
		}
		p.pendingSub[id] = struct{}{}
	}
}

// remove queues assets for unsubscription. An asset still waiting to
// subscribe is dropped outright; it never reaches the wire.
func (p *pendingAssetSet) remove(assetIDs []string) {
	for _, id := range assetIDs {
		if _, ok := p.pendingSub[id]; ok {
			delete(p.pendingSub, id)
			continue
		}
		if _, ok := p.subscribed[id]; ok {
			delete(p.subscribed, id)
			p.pendingUnsub[id] = struct{}{}
		}
	}
}

// takeFlush drains both pending sets, committing queued subscriptions as
// subscribed. If the subsequent sends fail the connection is dying and
// requeue restores intent from the subscribed set.
func (p *pendingAssetSet) takeFlush() (sub, unsub []string) {
	for id := range p.pendingSub {
		sub = append(sub, id)
		p.subscribed[id] = struct{}{}
		delete(p.pendingSub, id)
	}
	for id := range p.pendingUnsub {
		unsub = append(unsub, id)
		delete(p.pendingUnsub, id)
	}
	return sub, unsub
}

// requeue reconciles intent after a disconnect. Subscribed assets must be
// re-announced on the next connection, so they move back to pendingSub.
// Pending unsubscriptions are dropped: the new connection never knew
// those assets, which completes the removal for free.
func (p *pendingAssetSet) requeue() {
	for id := range p.pendingUnsub {
		delete(p.pendingUnsub, id)
	}
	for id := range p.subscribed {
		delete(p.subscribed, id)
		p.pendingSub[id] = struct{}{}
	}
}

// desired returns the full set the feed should be serving: subscribed
// plus queued subscriptions.
func (p *pendingAssetSet) desired() []string {
	out := make([]string, 0, len(p.subscribed)+len(p.pendingSub))
	for id := range p.subscribed {
		out = append(out, id)
	}
	for id := range p.pendingSub {
		out = append(out, id)
	}
	return out
}

// commit marks handshake-announced assets as subscribed. An asset whose
// removal arrived while the handshake was in flight keeps its removal:
// pendingUnsub entries stay queued, and an asset no longer in any set is
// not resurrected.
func (p *pendingAssetSet) commit(assetIDs []string) {
	for _, id := range assetIDs {
		if _, ok := p.pendingUnsub[id]; ok {
			continue
		}
		if _, ok := p.pendingSub[id]; ok {
			delete(p.pendingSub, id)
			p.subscribed[id] = struct{}{}
		}
	}
}

func (p *pendingAssetSet) isSubscribed(assetID string) bool {
	_, ok := p.subscribed[assetID]
	return ok
}

func (p *pendingAssetSet) subscribedList() []string {
	out := make([]string, 0, len(p.subscribed))
	for id := range p.subscribed {
		out = append(out, id)
	}
	return out
}

func (p *pendingAssetSet) counts() (subscribed, pending int) {
	return len(p.subscribed), len(p.pendingSub) + len(p.pendingUnsub)
}
