package credstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/signalix/gateway/internal/protocol"
	"github.com/signalix/gateway/internal/repo"
)

// Store holds one tenant's credentials in memory and writes them back to
// an AuthRepo on demand. It implements protocol.KeyStore.
type Store struct {
	tenantID string
	repo     repo.AuthRepo
	log      zerolog.Logger

	mu          sync.RWMutex
	creds       map[string]any
	keys        map[protocol.KeyKind]map[string]any
	persisted   map[protocol.KeyKind]bool
	quarantined []string
	restored    bool
}

var _ protocol.KeyStore = (*Store)(nil)

// Load hydrates the tenant's credentials from r. A read failure, a
// missing root record, or an unusable root record all fall back to fresh
// credentials; corrupt key rows are skipped and rows naming an unknown
// bucket are quarantined. Only failing to generate fresh keys is an
// error.
func Load(ctx context.Context, r repo.AuthRepo, tenantID string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		tenantID:  tenantID,
		repo:      r,
		log:       logger,
		keys:      make(map[protocol.KeyKind]map[string]any),
		persisted: make(map[protocol.KeyKind]bool),
	}

	records, err := r.ListBySession(ctx, tenantID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to read stored credentials, starting fresh")
		records = nil
	}

	for _, rec := range records {
		if rec.Key == CredsRecordKey {
			v, err := Unmarshal([]byte(rec.Value))
			if err != nil {
				s.log.Warn().Err(err).Str("key", rec.Key).Msg("skipping corrupt root credentials")
				continue
			}
			creds, ok := validCreds(v)
			if !ok {
				s.log.Warn().Str("key", rec.Key).Msg("stored root credentials lack a noise key, ignoring")
				continue
			}
			s.creds = creds
			continue
		}

		kind, ok := KindFromRecordKey(rec.Key)
		if !ok {
			s.quarantined = append(s.quarantined, rec.Key)
			s.log.Warn().Str("key", rec.Key).Msg("quarantined credential record with unknown bucket")
			continue
		}
		v, err := Unmarshal([]byte(rec.Value))
		if err != nil {
			s.log.Warn().Err(err).Str("key", rec.Key).Msg("skipping corrupt key record")
			continue
		}
		bucket, ok := v.(map[string]any)
		if !ok {
			s.log.Warn().Str("key", rec.Key).Msgf("skipping key record holding %T", v)
			continue
		}
		s.keys[kind] = bucket
		s.persisted[kind] = true
	}

	if s.creds != nil {
		s.restored = true
		return s, nil
	}
	creds, err := NewCreds()
	if err != nil {
		return nil, fmt.Errorf("generate credentials: %w", err)
	}
	s.creds = creds
	return s, nil
}

// TenantID returns the tenant the store belongs to.
func (s *Store) TenantID() string { return s.tenantID }

// Restored reports whether the root credentials came from storage.
func (s *Store) Restored() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restored
}

// Quarantined returns the record keys that were not loaded because they
// name no known bucket.
func (s *Store) Quarantined() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.quarantined...)
}

// AuthState returns what a connection is dialed with.
func (s *Store) AuthState() protocol.AuthState {
	return protocol.AuthState{Creds: s.Creds(), Keys: s}
}

// Creds returns a deep copy of the root credentials.
func (s *Store) Creds() protocol.Creds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return protocol.Creds(clone(s.creds).(map[string]any))
}

// MergeCreds applies a rotation delta to the root credentials. Top-level
// fields in partial replace the stored ones.
func (s *Store) MergeCreds(partial protocol.Creds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range partial {
		s.creds[k] = clone(v)
	}
}

// Get returns the requested ids that are present in the bucket.
func (s *Store) Get(kind protocol.KeyKind, ids []string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(ids))
	bucket := s.keys[kind]
	for _, id := range ids {
		if v, ok := bucket[id]; ok {
			out[id] = clone(v)
		}
	}
	return out
}

// Set merges updates into the in-memory buckets. A nil value removes the
// id. Nothing is written until Save.
func (s *Store) Set(updates protocol.KeyUpdates) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for kind, entries := range updates {
		if _, ok := protocol.ParseKeyKind(string(kind)); !ok {
			s.log.Warn().Str("kind", string(kind)).Msg("ignoring key update for unknown bucket")
			continue
		}
		bucket := s.keys[kind]
		if bucket == nil {
			bucket = make(map[string]any, len(entries))
			s.keys[kind] = bucket
		}
		for id, v := range entries {
			if v == nil {
				delete(bucket, id)
				continue
			}
			bucket[id] = clone(v)
		}
	}
}

type pendingWrite struct {
	key   string
	value string
}

// Save writes the root credentials and every non-empty bucket, plus any
// previously stored bucket that has since been emptied. A failed write
// is logged and the remaining writes still run; the joined failures are
// returned.
func (s *Store) Save(ctx context.Context) error {
	writes, errs := s.snapshot()

	written := make([]protocol.KeyKind, 0, len(writes))
	for _, w := range writes {
		if err := s.repo.Upsert(ctx, s.tenantID, w.key, w.value); err != nil {
			s.log.Error().Err(err).Str("key", w.key).Msg("failed to persist credential record")
			errs = append(errs, fmt.Errorf("%s: %w", w.key, err))
			continue
		}
		if kind, ok := KindFromRecordKey(w.key); ok {
			written = append(written, kind)
		}
	}

	s.mu.Lock()
	for _, kind := range written {
		s.persisted[kind] = true
	}
	s.mu.Unlock()

	return errors.Join(errs...)
}

func (s *Store) snapshot() ([]pendingWrite, []error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var writes []pendingWrite
	var errs []error

	if v, err := Marshal(s.creds); err != nil {
		s.log.Error().Err(err).Msg("failed to encode root credentials")
		errs = append(errs, err)
	} else {
		writes = append(writes, pendingWrite{key: CredsRecordKey, value: v})
	}

	kinds := make([]protocol.KeyKind, 0, len(s.keys))
	for kind, bucket := range s.keys {
		if len(bucket) == 0 && !s.persisted[kind] {
			continue
		}
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	for _, kind := range kinds {
		bucket := s.keys[kind]
		if bucket == nil {
			bucket = map[string]any{}
		}
		v, err := Marshal(bucket)
		if err != nil {
			s.log.Error().Err(err).Str("kind", string(kind)).Msg("failed to encode key bucket")
			errs = append(errs, err)
			continue
		}
		writes = append(writes, pendingWrite{key: RecordKey(kind), value: v})
	}
	return writes, errs
}

// Clear deletes every stored record of the tenant.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := Clear(ctx, s.repo, s.tenantID); err != nil {
		return err
	}
	s.mu.Lock()
	s.persisted = make(map[protocol.KeyKind]bool)
	s.mu.Unlock()
	return nil
}

// Clear deletes every stored record of tenantID and returns how many
// were removed. Clearing a tenant with no records is not an error.
func Clear(ctx context.Context, r repo.AuthRepo, tenantID string) (int64, error) {
	n, err := r.DeleteBySession(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("clear credentials of %s: %w", tenantID, err)
	}
	return n, nil
}
