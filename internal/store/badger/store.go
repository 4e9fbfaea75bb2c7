// Package badgerstore implements domain.Store on an embedded badger KV
// database. Keys follow a fixed binary layout so that range scans over rounds
// and a player's wagers come back in id order.
package badgerstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/alanyoungcy/spacewager/internal/domain"
)

// gcInterval is how often the value log garbage collector runs for on-disk
// databases.
const gcInterval = 30 * time.Minute

// Store is a badger-backed domain.Store.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	stop   chan struct{}

	// writeMu serializes read-write transactions so concurrent commands are
	// applied one after another instead of failing with ErrConflict.
	writeMu sync.Mutex
}

// Compile-time interface checks.
var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = (*tx)(nil)
)

// Open opens (or creates) the database in dir. An empty dir opens an
// in-memory database, which is what tests use.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	inMemory := dir == ""

	opts := badger.DefaultOptions(dir)
	opts.Logger = newBadgerLogger(logger)
	if inMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %q: %w", dir, err)
	}

	s := &Store{db: db, logger: logger, stop: make(chan struct{})}
	if !inMemory {
		go s.runGC()
	}
	return s, nil
}

func (s *Store) runGC() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger: value log gc failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Update runs fn in a read-write transaction. Nothing fn writes is committed
// unless it returns nil.
func (s *Store) Update(ctx context.Context, fn func(domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn})
	})
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn})
	})
}

// Close stops background work and closes the database.
func (s *Store) Close() error {
	close(s.stop)
	return s.db.Close()
}

type tx struct {
	txn *badger.Txn
}

func (t *tx) get(key []byte, dst any) error {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

func (t *tx) put(key []byte, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.txn.Set(key, buf)
}

func (t *tx) GetConfig(_ context.Context) (domain.GameConfig, error) {
	var rec configRecord
	if err := t.get(keyConfig, &rec); err != nil {
		return domain.GameConfig{}, fmt.Errorf("badger: get config: %w", err)
	}
	return rec.toDomain()
}

func (t *tx) PutConfig(_ context.Context, cfg domain.GameConfig) error {
	if err := t.put(keyConfig, toConfigRecord(cfg)); err != nil {
		return fmt.Errorf("badger: put config: %w", err)
	}
	return nil
}

type stateRecord struct {
	Round uint64 `json:"round"`
}

func (t *tx) GetState(_ context.Context) (domain.GameState, error) {
	var rec stateRecord
	if err := t.get(keyState, &rec); err != nil {
		return domain.GameState{}, fmt.Errorf("badger: get state: %w", err)
	}
	return domain.GameState{CurrentRound: rec.Round}, nil
}

func (t *tx) PutState(_ context.Context, st domain.GameState) error {
	if err := t.put(keyState, stateRecord{Round: st.CurrentRound}); err != nil {
		return fmt.Errorf("badger: put state: %w", err)
	}
	return nil
}

func (t *tx) GetRound(_ context.Context, id uint64) (domain.Round, error) {
	var rec roundRecord
	if err := t.get(roundKey(id), &rec); err != nil {
		return domain.Round{}, fmt.Errorf("badger: get round %d: %w", id, err)
	}
	return rec.toDomain()
}

func (t *tx) PutRound(_ context.Context, r domain.Round) error {
	if err := t.put(roundKey(r.ID), toRoundRecord(r)); err != nil {
		return fmt.Errorf("badger: put round %d: %w", r.ID, err)
	}
	return nil
}

func (t *tx) ListRounds(_ context.Context, opts domain.PageOpts) ([]domain.Round, error) {
	limit := opts.Clamp()
	seek, ok := roundSeek(opts.StartAfter)
	if !ok {
		return nil, nil
	}

	it := t.txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: limit, Prefix: prefixRounds})
	defer it.Close()

	out := make([]domain.Round, 0, limit)
	for it.Seek(seek); it.ValidForPrefix(prefixRounds) && len(out) < limit; it.Next() {
		var rec roundRecord
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return nil, fmt.Errorf("badger: list rounds: %w", err)
		}
		r, err := rec.toDomain()
		if err != nil {
			return nil, fmt.Errorf("badger: list rounds: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (t *tx) GetWager(_ context.Context, player domain.Player, roundID uint64) (domain.Wager, error) {
	var rec wagerRecord
	if err := t.get(wagerKey(player, roundID), &rec); err != nil {
		return domain.Wager{}, fmt.Errorf("badger: get wager %s/%d: %w", player.Hex(), roundID, err)
	}
	return rec.toDomain(player, roundID)
}

func (t *tx) PutWager(_ context.Context, w domain.Wager) error {
	if err := t.put(wagerKey(w.Player, w.RoundID), toWagerRecord(w)); err != nil {
		return fmt.Errorf("badger: put wager %s/%d: %w", w.Player.Hex(), w.RoundID, err)
	}
	return nil
}

func (t *tx) ListWagers(_ context.Context, player domain.Player, opts domain.PageOpts) ([]domain.Wager, error) {
	limit := opts.Clamp()
	seek, ok := wagerSeek(player, opts.StartAfter)
	if !ok {
		return nil, nil
	}
	prefix := wagerPrefix(player)

	it := t.txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: limit, Reverse: true})
	defer it.Close()

	out := make([]domain.Wager, 0, limit)
	for it.Seek(seek); it.Valid() && len(out) < limit; it.Next() {
		key := it.Item().Key()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		roundID := idSuffix(key)
		var rec wagerRecord
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return nil, fmt.Errorf("badger: list wagers %s: %w", player.Hex(), err)
		}
		w, err := rec.toDomain(player, roundID)
		if err != nil {
			return nil, fmt.Errorf("badger: list wagers %s: %w", player.Hex(), err)
		}
		out = append(out, w)
	}
	return out, nil
}

func (t *tx) GetPlayerStats(_ context.Context, player domain.Player) (domain.PlayerStats, error) {
	var rec statsRecord
	if err := t.get(playerKey(player), &rec); err != nil {
		return domain.PlayerStats{}, fmt.Errorf("badger: get player %s: %w", player.Hex(), err)
	}
	return rec.toDomain(player)
}

func (t *tx) PutPlayerStats(_ context.Context, s domain.PlayerStats) error {
	if err := t.put(playerKey(s.Player), toStatsRecord(s)); err != nil {
		return fmt.Errorf("badger: put player %s: %w", s.Player.Hex(), err)
	}
	return nil
}

func (t *tx) EnqueueTransfer(_ context.Context, recipient domain.Player, coin domain.Coin) (uint64, error) {
	var next uint64
	if err := t.get(keyOutboxSeq, &next); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("badger: outbox sequence: %w", err)
	}
	rec := transferRecord{Recipient: recipient.Hex(), Denom: coin.Denom, Amount: coin.Amount.Dec()}
	if err := t.put(outboxKey(next), rec); err != nil {
		return 0, fmt.Errorf("badger: enqueue transfer %d: %w", next, err)
	}
	if err := t.put(keyOutboxSeq, next+1); err != nil {
		return 0, fmt.Errorf("badger: outbox sequence: %w", err)
	}
	return next, nil
}

func (t *tx) PendingTransfers(_ context.Context, limit int) ([]domain.QueuedTransfer, error) {
	it := t.txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: limit, Prefix: prefixOutbox})
	defer it.Close()

	out := make([]domain.QueuedTransfer, 0, limit)
	for it.Seek(prefixOutbox); it.ValidForPrefix(prefixOutbox) && len(out) < limit; it.Next() {
		id := idSuffix(it.Item().Key())
		var rec transferRecord
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return nil, fmt.Errorf("badger: pending transfers: %w", err)
		}
		q, err := rec.toDomain(id)
		if err != nil {
			return nil, fmt.Errorf("badger: pending transfer %d: %w", id, err)
		}
		out = append(out, q)
	}
	return out, nil
}

func (t *tx) DeleteTransfer(_ context.Context, id uint64) error {
	if err := t.txn.Delete(outboxKey(id)); err != nil {
		return fmt.Errorf("badger: delete transfer %d: %w", id, err)
	}
	return nil
}
