package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/oklog/ulid/v2"
	"go.uber.org/multierr"

	"github.com/SAWassermann/DisNETPerf/atlas"
	"github.com/SAWassermann/DisNETPerf/runid"
)

var (
	runKey       = []byte("run")
	probePrefix  = []byte("probe/")
	targetPrefix = []byte("target/")
)

// BadgerJournal keeps the journal in an embedded badger database. Target
// records are keyed by a sequence number so they replay in append order.
type BadgerJournal struct {
	mu  sync.Mutex
	db  *badger.DB
	seq uint64
}

// OpenBadger opens (or creates) a badger journal in dir. An empty dir
// keeps the database in memory.
func OpenBadger(dir string, log *slog.Logger) (*BadgerJournal, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(&badgerLogger{log: log})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	j := &BadgerJournal{db: db}
	if err := j.loadSeq(); err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return j, nil
}

// loadSeq finds the highest target sequence already stored.
func (j *BadgerJournal) loadSeq() error {
	return j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(targetPrefix); it.ValidForPrefix(targetPrefix); it.Next() {
			key := it.Item().Key()
			j.seq = binary.BigEndian.Uint64(key[len(targetPrefix):])
		}
		return nil
	})
}

func (j *BadgerJournal) Reset(_ context.Context, runID ulid.ULID) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.db.DropAll(); err != nil {
		return err
	}
	j.seq = 0
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey, []byte(runID.String()))
	})
}

func (j *BadgerJournal) Append(_ context.Context, rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch r := rec.(type) {
	case ProbeRecord:
		key := append(bytes.Clone(probePrefix), r.Probe.String()...)
		return j.db.Update(func(txn *badger.Txn) error {
			// the first AS recorded for a probe is kept
			_, err := txn.Get(key)
			if err == nil {
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			return txn.Set(key, []byte(r.ASN.String()))
		})
	case TargetRecord:
		seq := j.seq + 1
		key := binary.BigEndian.AppendUint64(bytes.Clone(targetPrefix), seq)
		err := j.db.Update(func(txn *badger.Txn) error {
			return txn.Set(key, []byte(encodeTarget(r)))
		})
		if err != nil {
			return err
		}
		j.seq = seq
		return nil
	}
	return fmt.Errorf("journal: unknown record %T", rec)
}

func (j *BadgerJournal) Replay(ctx context.Context, fn func(Record) error) (ulid.ULID, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var id ulid.ULID
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoJournal
		}
		if err != nil {
			return err
		}
		err = item.Value(func(val []byte) error {
			id, err = runid.Parse(string(val))
			return err
		})
		if err != nil {
			return err
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(probePrefix); it.ValidForPrefix(probePrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			probe := strings.TrimPrefix(string(item.Key()), string(probePrefix))
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := decodeProbe(probe + "\t" + string(val))
			if err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
		}

		for it.Seek(targetPrefix); it.ValidForPrefix(targetPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := decodeTarget(string(val))
			if err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ulid.ULID{}, err
	}
	return id, nil
}

func (j *BadgerJournal) Close() error {
	return j.db.Close()
}

// badgerLogger routes badger's printf style logging to slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}
