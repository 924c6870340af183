package driver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mizu/internal/chain"
	"mizu/internal/crypto"
	"mizu/internal/domain"
	"mizu/internal/protocol/session"
	"mizu/internal/store"
	"mizu/internal/wire"
)

// MaxPendingDiscovery bounds how many discovery senders are surfaced per
// identity before further pokes are left on the chain.
const MaxPendingDiscovery = 32

// Options tune the driver's transport retry behavior.
type Options struct {
	RetryAttempts int           // network attempts per operation
	RetryBase     time.Duration // first backoff step; jittered, doubled per attempt
}

func (o *Options) fill() {
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 200 * time.Millisecond
	}
}

type outboundItem struct {
	identityID int64
	contactID  int64
	content    []byte
}

// Driver coordinates the store, the chain, and the session machines.
type Driver struct {
	store *store.Store
	dial  chain.DialFunc
	log   *zap.Logger
	opts  Options

	chains sync.Map // address -> chain.Chain
	locks  sync.Map // pairKey -> *sync.Mutex

	mu     sync.Mutex
	outbox []outboundItem
}

// New builds a driver. dial opens a chain handle per local address.
func New(st *store.Store, dial chain.DialFunc, log *zap.Logger, opts Options) *Driver {
	opts.fill()
	return &Driver{store: st, dial: dial, log: log, opts: opts}
}

type pairKey struct{ identityID, contactID int64 }

func (d *Driver) pairLock(identityID, contactID int64) *sync.Mutex {
	v, _ := d.locks.LoadOrStore(pairKey{identityID, contactID}, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (d *Driver) chainFor(address string) (chain.Chain, error) {
	if v, ok := d.chains.Load(address); ok {
		return v.(chain.Chain), nil
	}
	c, err := d.dial(address)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	v, _ := d.chains.LoadOrStore(address, c)
	return v.(chain.Chain), nil
}

// withRetry runs a network operation with jittered exponential backoff.
// Session state is never touched on transport failure.
func (d *Driver) withRetry(ctx context.Context, op string, fn func() error) error {
	delay := d.opts.RetryBase
	var err error
	for attempt := 0; attempt < d.opts.RetryAttempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = fn(); err == nil {
			return nil
		}
		d.log.Warn("transport retry",
			zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
		jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return fmt.Errorf("transport: %s: %w", op, err)
}

// ---------- identity and contact management ----------

// RegisterIdentity generates a fresh identity for address, persists it,
// and publishes the identity key and prekey to the chain.
func (d *Driver) RegisterIdentity(ctx context.Context, name, address string) (*domain.Identity, error) {
	ik, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	pk, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	signPriv, signPub, err := crypto.GenerateEd25519()
	if err != nil {
		return nil, err
	}
	id := &domain.Identity{
		Name:        name,
		Address:     address,
		IdentityKey: ik,
		Prekey:      pk,
		SigningPub:  signPub,
		SigningPriv: signPriv,
	}
	if err := d.store.CreateIdentity(ctx, id); err != nil {
		return nil, err
	}
	c, err := d.chainFor(address)
	if err != nil {
		return nil, err
	}
	err = d.withRetry(ctx, "register", func() error {
		return c.Register(ctx, id.IdentityKey.Pub.Slice(), id.Prekey.Pub.Slice())
	})
	if err != nil {
		return nil, err
	}
	d.log.Info("identity registered",
		zap.String("name", name), zap.String("address", address))
	return id, nil
}

// RotatePrekey publishes a fresh signed prekey, keeping the previous pair
// so in-flight initial messages stay readable.
func (d *Driver) RotatePrekey(ctx context.Context, identityID int64) error {
	id, err := d.store.FindIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	pk, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	prev := id.Prekey
	id.PrevPrekey = &prev
	id.Prekey = pk
	if err := d.store.UpdateIdentityKeys(ctx, id); err != nil {
		return err
	}
	c, err := d.chainFor(id.Address)
	if err != nil {
		return err
	}
	return d.withRetry(ctx, "rotate prekey", func() error {
		return c.Register(ctx, nil, id.Prekey.Pub.Slice())
	})
}

// AddContact stores a contact and pins its published keys.
func (d *Driver) AddContact(ctx context.Context, identityID int64, name, address string) (*domain.Contact, error) {
	id, err := d.store.FindIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	contact, err := d.store.CreateContact(ctx, name, address)
	if err != nil {
		return nil, err
	}
	if err := d.refreshContact(ctx, id, contact); err != nil {
		d.log.Warn("contact keys not yet on chain",
			zap.String("address", address), zap.Error(err))
	}
	return contact, nil
}

// refreshContact re-reads the contact's published keys. The identity key
// is pinned on first sight; a changed identity key is logged, never
// silently adopted into the pinned slot of an existing session.
func (d *Driver) refreshContact(ctx context.Context, id *domain.Identity, contact *domain.Contact) error {
	c, err := d.chainFor(id.Address)
	if err != nil {
		return err
	}
	var data *chain.UserData
	err = d.withRetry(ctx, "retrieve contact", func() error {
		var e error
		data, e = c.RetrieveUserData(ctx, contact.Address)
		return e
	})
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("contact %s: %w", contact.Address, domain.ErrNotRegistered)
	}
	if len(data.IdentityKey) != 32 || len(data.Prekey) != 32 {
		return fmt.Errorf("contact %s keys: %w", contact.Address, domain.ErrCodec)
	}
	var ik, pk domain.X25519Public
	copy(ik[:], data.IdentityKey)
	copy(pk[:], data.Prekey)

	if contact.IdentityKey != (domain.X25519Public{}) && contact.IdentityKey != ik {
		d.log.Warn("contact identity key changed on chain",
			zap.String("address", contact.Address))
		ik = contact.IdentityKey
	}
	contact.IdentityKey = ik
	contact.Prekey = pk
	return d.store.UpdateContactKeys(ctx, contact.ID, ik, pk)
}

// ---------- outbound ----------

// Queue schedules a payload for the next flush. The payload is encrypted
// at flush time so concurrent sends to one contact keep chain order.
func (d *Driver) Queue(identityID, contactID int64, content []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outbox = append(d.outbox, outboundItem{identityID, contactID, append([]byte(nil), content...)})
}

// Send queues one payload and flushes immediately.
func (d *Driver) Send(ctx context.Context, identityID, contactID int64, content []byte) error {
	d.Queue(identityID, contactID, content)
	return d.Flush(ctx)
}

// Flush encrypts every queued payload and posts the envelopes, batching
// all envelopes of one identity into a single Post action.
func (d *Driver) Flush(ctx context.Context) error {
	d.mu.Lock()
	items := d.outbox
	d.outbox = nil
	d.mu.Unlock()
	if len(items) == 0 {
		return nil
	}

	perIdentity := make(map[int64][][]byte)
	order := make([]int64, 0, 4)
	for start := 0; start < len(items); {
		// One session round per (identity, contact) run of queued items.
		end := start
		for end < len(items) &&
			items[end].identityID == items[start].identityID &&
			items[end].contactID == items[start].contactID {
			end++
		}
		envs, err := d.encryptRun(ctx, items[start].identityID, items[start].contactID, items[start:end])
		if err != nil {
			return err
		}
		if _, seen := perIdentity[items[start].identityID]; !seen {
			order = append(order, items[start].identityID)
		}
		perIdentity[items[start].identityID] = append(perIdentity[items[start].identityID], envs...)
		start = end
	}

	for _, identityID := range order {
		id, err := d.store.FindIdentity(ctx, identityID)
		if err != nil {
			return err
		}
		c, err := d.chainFor(id.Address)
		if err != nil {
			return err
		}
		envs := perIdentity[identityID]
		if err := d.withRetry(ctx, "post", func() error {
			return c.Post(ctx, envs, nil)
		}); err != nil {
			return err
		}
		d.log.Info("posted envelopes",
			zap.String("address", id.Address), zap.Int("count", len(envs)))
	}
	return nil
}

// encryptRun encrypts consecutive payloads for one pair under the pair
// lock and commits the advanced session blob before anything is posted.
func (d *Driver) encryptRun(ctx context.Context, identityID, contactID int64, items []outboundItem) ([][]byte, error) {
	id, err := d.store.FindIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	contact, err := d.store.FindContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if contact.IdentityKey == (domain.X25519Public{}) {
		if err := d.refreshContact(ctx, id, contact); err != nil {
			return nil, err
		}
	}

	lock := d.pairLock(identityID, contactID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := d.loadSession(ctx, identityID, contactID)
	if err != nil {
		return nil, err
	}

	envs := make([][]byte, 0, len(items))
	now := time.Now().UnixMilli()
	for _, item := range items {
		env, err := sess.Encrypt(id, contact, item.content)
		if err != nil {
			return nil, fmt.Errorf("encrypt for %s: %w", contact.Address, err)
		}
		envs = append(envs, env)
		if err := d.store.AppendMessage(ctx, &domain.PlainMessage{
			IdentityID: identityID,
			ContactID:  contactID,
			Content:    item.content,
			Outbound:   true,
			Timestamp:  now,
		}); err != nil {
			return nil, err
		}
	}
	if err := d.saveSession(ctx, identityID, contactID, sess); err != nil {
		return nil, err
	}
	return envs, nil
}

// ---------- discovery ----------

// SendDiscovery seals our address to the recipient's published identity
// key and pokes it into their poke list.
func (d *Driver) SendDiscovery(ctx context.Context, identityID int64, recipient string) error {
	id, err := d.store.FindIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	c, err := d.chainFor(id.Address)
	if err != nil {
		return err
	}
	var data *chain.UserData
	err = d.withRetry(ctx, "retrieve recipient", func() error {
		var e error
		data, e = c.RetrieveUserData(ctx, recipient)
		return e
	})
	if err != nil {
		return err
	}
	if data == nil || len(data.IdentityKey) != 32 {
		return fmt.Errorf("recipient %s: %w", recipient, domain.ErrNotRegistered)
	}
	var ik domain.X25519Public
	copy(ik[:], data.IdentityKey)

	sealed, err := crypto.SealBox(ik, []byte(id.Address))
	if err != nil {
		return err
	}
	env := wire.EncodeDiscovery(sealed)
	return d.withRetry(ctx, "poke", func() error {
		return c.Poke(ctx, recipient, env)
	})
}

// scanPokes opens our poke list against the identity key and surfaces
// valid senders as pending contacts, bounded by MaxPendingDiscovery.
func (d *Driver) scanPokes(ctx context.Context, id *domain.Identity) error {
	c, err := d.chainFor(id.Address)
	if err != nil {
		return err
	}
	var data *chain.UserData
	err = d.withRetry(ctx, "retrieve pokes", func() error {
		var e error
		data, e = c.RetrieveUserData(ctx, id.Address)
		return e
	})
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}

	pending, err := d.store.CountPendingContacts(ctx, id.ID)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	consumed := make([]uint64, 0, len(data.Pokes))
	for i, raw := range data.Pokes {
		if pending >= MaxPendingDiscovery {
			break
		}
		env, err := wire.Decode(raw)
		if err != nil || env.Tag != wire.TagDiscovery {
			d.log.Debug("ignoring malformed poke", zap.String("address", id.Address))
			consumed = append(consumed, uint64(i))
			continue
		}
		sender, err := crypto.OpenBox(id.IdentityKey.Priv, env.Sealed)
		if err != nil {
			// Sealed to somebody else or junk; either way not ours to keep.
			consumed = append(consumed, uint64(i))
			continue
		}
		if err := d.store.AddPendingContact(ctx, id.ID, string(sender), now); err != nil {
			return err
		}
		pending++
		consumed = append(consumed, uint64(i))
		d.log.Info("discovery request",
			zap.String("identity", id.Name), zap.String("sender", string(sender)))
	}
	if len(consumed) > 0 {
		if err := d.withRetry(ctx, "remove pokes", func() error {
			return c.RemovePokes(ctx, consumed)
		}); err != nil {
			// Leaving consumed pokes on chain is harmless; dedup is local.
			d.log.Warn("poke cleanup failed", zap.Error(err))
		}
	}
	return nil
}

// ClearPokes drops every entry in the identity's poke list.
func (d *Driver) ClearPokes(ctx context.Context, identityID int64) error {
	id, err := d.store.FindIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	c, err := d.chainFor(id.Address)
	if err != nil {
		return err
	}
	data, err := c.RetrieveUserData(ctx, id.Address)
	if err != nil || data == nil {
		return err
	}
	all := make([]uint64, len(data.Pokes))
	for i := range all {
		all[i] = uint64(i)
	}
	if len(all) == 0 {
		return nil
	}
	return c.RemovePokes(ctx, all)
}

// ---------- sync ----------

// SyncPair fetches and applies new postal-box entries for one pair.
func (d *Driver) SyncPair(ctx context.Context, identityID, contactID int64) error {
	id, err := d.store.FindIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	contact, err := d.store.FindContact(ctx, contactID)
	if err != nil {
		return err
	}
	if err := d.refreshContact(ctx, id, contact); err != nil {
		return err
	}

	c, err := d.chainFor(id.Address)
	if err != nil {
		return err
	}
	// Network I/O happens before the pair lock is taken.
	var data *chain.UserData
	err = d.withRetry(ctx, "retrieve postal box", func() error {
		var e error
		data, e = c.RetrieveUserData(ctx, contact.Address)
		return e
	})
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}

	lock := d.pairLock(identityID, contactID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := d.loadSession(ctx, identityID, contactID)
	if err != nil {
		return err
	}
	if sess.Quarantined {
		d.log.Debug("skipping quarantined session",
			zap.String("contact", contact.Address))
		return nil
	}

	changed := false
	for _, entry := range data.PostalBox {
		if !sess.HWM.Less(entry.Position) {
			continue // already consumed; re-running the loop is a no-op
		}
		if err := ctx.Err(); err != nil {
			break
		}
		changed = true
		d.applyEntry(ctx, id, contact, sess, entry)
		if sess.Quarantined {
			d.log.Error("session quarantined; user reset required",
				zap.String("identity", id.Name), zap.String("contact", contact.Address))
			break
		}
	}

	if changed {
		if err := d.saveSession(ctx, identityID, contactID, sess); err != nil {
			return err
		}
	}
	return nil
}

// applyEntry feeds one postal-box entry into the session machine and
// records any plaintext. Failures are classified per the error policy:
// nothing here ever corrupts the session.
func (d *Driver) applyEntry(ctx context.Context, id *domain.Identity, contact *domain.Contact, sess *session.Session, entry chain.Entry) {
	env, err := wire.Decode(entry.Content)
	if err != nil {
		// Fatal for this envelope only.
		sess.HWM = entry.Position
		d.log.Warn("undecodable postal entry",
			zap.String("contact", contact.Address), zap.Error(err))
		return
	}
	if env.Tag == wire.TagDiscovery {
		// Discovery requests belong in poke lists; one in a postal box is
		// consumed without touching session state.
		sess.HWM = entry.Position
		d.log.Debug("discovery envelope in postal box",
			zap.String("contact", contact.Address))
		return
	}

	pt, err := sess.Receive(id, contact, env, entry.Position)
	switch {
	case err == nil:
		if err := d.store.AppendMessage(ctx, &domain.PlainMessage{
			IdentityID: id.ID,
			ContactID:  contact.ID,
			Content:    pt,
			Outbound:   false,
			Timestamp:  entry.Position.Timestamp,
		}); err != nil {
			d.log.Error("store", zap.Error(err))
		}
	case errors.Is(err, domain.ErrDuplicateEnvelope):
		d.log.Debug("duplicate envelope skipped",
			zap.String("contact", contact.Address))
	case errors.Is(err, domain.ErrTooManySkipped):
		// Quarantine flag is already set; caller stops the pair.
	case errors.Is(err, domain.ErrAuthFail), errors.Is(err, domain.ErrX3DHAuth):
		d.log.Warn("undecryptable envelope skipped",
			zap.String("contact", contact.Address), zap.Error(err))
	case errors.Is(err, domain.ErrProtocolReplay),
		errors.Is(err, domain.ErrUnknownPrekey),
		errors.Is(err, domain.ErrNoSession):
		d.log.Warn("envelope inconsistent with session state",
			zap.String("contact", contact.Address), zap.Error(err))
	default:
		d.log.Warn("envelope rejected",
			zap.String("contact", contact.Address), zap.Error(err))
	}
}

// SyncOnce runs one full iteration: every pair in parallel, then poke
// scans, then the outbound flush.
func (d *Driver) SyncOnce(ctx context.Context) error {
	ids, err := d.store.ListIdentities(ctx)
	if err != nil {
		return err
	}
	contacts, err := d.store.ListContacts(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		for _, contact := range contacts {
			identityID, contactID := id.ID, contact.ID
			g.Go(func() error {
				if err := d.SyncPair(gctx, identityID, contactID); err != nil {
					// A failing pair is logged and never halts the
					// others; store failures are not told apart and do
					// not stop the iteration either.
					d.log.Warn("pair sync failed",
						zap.Int64("identity", identityID),
						zap.Int64("contact", contactID),
						zap.Error(err))
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.scanPokes(ctx, &ids[i]); err != nil {
			d.log.Warn("poke scan failed",
				zap.String("identity", ids[i].Name), zap.Error(err))
		}
	}

	return d.Flush(ctx)
}

// Run loops SyncOnce on the given interval until the context is done.
func (d *Driver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := d.SyncOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Error("sync iteration failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ---------- session blob plumbing ----------

func (d *Driver) loadSession(ctx context.Context, identityID, contactID int64) (*session.Session, error) {
	blob, err := d.store.LoadSessionBlob(ctx, identityID, contactID)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return session.New(), nil
	}
	return session.Unmarshal(blob)
}

func (d *Driver) saveSession(ctx context.Context, identityID, contactID int64, sess *session.Session) error {
	blob, err := sess.Marshal()
	if err != nil {
		return err
	}
	return d.store.SaveSessionBlob(ctx, identityID, contactID, blob, sess.HWM.Timestamp)
}
