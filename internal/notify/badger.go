// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/threatwatch/internal/logging"
	"github.com/tomtom215/threatwatch/internal/models"
)

// Key layout:
//
//	notif/<owner>/<id>  -> Notification
//	alert/<owner>/<id>  -> Alert
//	event/<eventID>     -> eventRef
//	notif_id/<id>       -> owner
//	alert_id/<id>       -> owner
const (
	notifPrefix   = "notif/"
	alertPrefix   = "alert/"
	eventPrefix   = "event/"
	notifIDPrefix = "notif_id/"
	alertIDPrefix = "alert_id/"

	maxConflictRetries = 5
)

// BadgerStore is a durable Store on BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a store in dir. An empty dir opens an
// in-memory database.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	return openBadgerStore(opts)
}

func openBadgerStore(opts badger.Options) (*BadgerStore, error) {
	dir := opts.Dir
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().Str("path", dir).Msg("Notification store opened")
	return &BadgerStore{db: db}, nil
}

func notifKey(owner, id string) []byte { return []byte(notifPrefix + owner + "/" + id) }
func alertKey(owner, id string) []byte { return []byte(alertPrefix + owner + "/" + id) }
func eventKey(eventID int64) []byte {
	return []byte(eventPrefix + strconv.FormatInt(eventID, 10))
}

// update runs fn in a read-write transaction, retrying on write conflicts.
// fn must be safe to run more than once.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		err := s.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		if errors.Is(err, badger.ErrDBClosed) {
			return ErrClosed
		}
		return err
	}
}

func (s *BadgerStore) view(fn func(txn *badger.Txn) error) error {
	err := s.db.View(fn)
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	return err
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getString(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	return string(val), err
}

// SaveForEvent implements Store.
func (s *BadgerStore) SaveForEvent(_ context.Context, alert models.Alert, n models.Notification) (models.Alert, models.Notification, bool, error) {
	var (
		outAlert models.Alert
		outNotif models.Notification
		created  bool
	)
	err := s.update(func(txn *badger.Txn) error {
		var ref eventRef
		err := getJSON(txn, eventKey(alert.EventID), &ref)
		if err == nil {
			created = false
			if err := getJSON(txn, alertKey(ref.Owner, ref.AlertID), &outAlert); err != nil {
				return fmt.Errorf("load alert %s: %w", ref.AlertID, err)
			}
			if err := getJSON(txn, notifKey(ref.Owner, ref.NotificationID), &outNotif); err != nil {
				return fmt.Errorf("load notification %s: %w", ref.NotificationID, err)
			}
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		ref = eventRef{Owner: alert.Owner, AlertID: alert.ID, NotificationID: n.ID}
		if err := setJSON(txn, eventKey(alert.EventID), ref); err != nil {
			return err
		}
		if err := setJSON(txn, alertKey(alert.Owner, alert.ID), alert); err != nil {
			return err
		}
		if err := setJSON(txn, notifKey(n.Owner, n.ID), n); err != nil {
			return err
		}
		if err := txn.Set([]byte(alertIDPrefix+alert.ID), []byte(alert.Owner)); err != nil {
			return err
		}
		if err := txn.Set([]byte(notifIDPrefix+n.ID), []byte(n.Owner)); err != nil {
			return err
		}
		outAlert, outNotif, created = alert, n, true
		return nil
	})
	if err != nil {
		return models.Alert{}, models.Notification{}, false, fmt.Errorf("save alert for event %d: %w", alert.EventID, err)
	}
	return outAlert, outNotif, created, nil
}

// scanOwner passes every value stored under prefix+owner+"/" to decode.
func scanOwner(txn *badger.Txn, prefix, owner string, decode func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	defer it.Close()

	p := []byte(prefix + owner + "/")
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		if err := it.Item().Value(decode); err != nil {
			return err
		}
	}
	return nil
}

// ListNotifications implements Store.
func (s *BadgerStore) ListNotifications(_ context.Context, owner string, unreadOnly bool) ([]models.Notification, error) {
	out := make([]models.Notification, 0)
	err := s.view(func(txn *badger.Txn) error {
		return scanOwner(txn, notifPrefix, owner, func(val []byte) error {
			var n models.Notification
			if err := json.Unmarshal(val, &n); err != nil {
				return err
			}
			// Owners containing "/" share a prefix with shorter owners.
			if n.Owner == owner && !(unreadOnly && n.Read) {
				out = append(out, n)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	sortNotifications(out)
	return out, nil
}

// MarkRead implements Store.
func (s *BadgerStore) MarkRead(_ context.Context, id string, at time.Time) (models.Notification, error) {
	var out models.Notification
	err := s.update(func(txn *badger.Txn) error {
		owner, err := getString(txn, []byte(notifIDPrefix+id))
		if err != nil {
			return err
		}
		key := notifKey(owner, id)
		if err := getJSON(txn, key, &out); err != nil {
			return err
		}
		if out.Read {
			return nil
		}
		readAt := at
		out.Read = true
		out.ReadAt = &readAt
		return setJSON(txn, key, out)
	})
	if err != nil {
		return models.Notification{}, err
	}
	return out, nil
}

// MarkAllRead implements Store. Unread notifications are found in one read
// snapshot, then marked in as many transactions as badger's size limit needs.
func (s *BadgerStore) MarkAllRead(_ context.Context, owner string, at time.Time) (int, error) {
	var ids []string
	err := s.view(func(txn *badger.Txn) error {
		return scanOwner(txn, notifPrefix, owner, func(val []byte) error {
			var n models.Notification
			if err := json.Unmarshal(val, &n); err != nil {
				return err
			}
			if n.Owner == owner && !n.Read {
				ids = append(ids, n.ID)
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}

	changed := 0
	for len(ids) > 0 {
		done, marked, err := s.markRead(owner, ids, at)
		if err != nil {
			return changed, fmt.Errorf("mark all read: %w", err)
		}
		changed += marked
		ids = ids[done:]
	}
	return changed, nil
}

// markRead marks a prefix of ids read in one transaction, stopping at the
// first write the transaction cannot hold. It returns how many ids it
// consumed and how many of those it changed.
func (s *BadgerStore) markRead(owner string, ids []string, at time.Time) (done, marked int, err error) {
	err = s.update(func(txn *badger.Txn) error {
		done, marked = 0, 0
		for _, id := range ids {
			var n models.Notification
			err := getJSON(txn, notifKey(owner, id), &n)
			if errors.Is(err, ErrNotFound) {
				done++
				continue
			}
			if err != nil {
				return err
			}
			if !n.Read {
				readAt := at
				n.Read = true
				n.ReadAt = &readAt
				err := setJSON(txn, notifKey(owner, id), n)
				if errors.Is(err, badger.ErrTxnTooBig) && done > 0 {
					return nil
				}
				if err != nil {
					return err
				}
				marked++
			}
			done++
		}
		return nil
	})
	return done, marked, err
}

// ListAlerts implements Store.
func (s *BadgerStore) ListAlerts(_ context.Context, owner string) ([]models.Alert, error) {
	out := make([]models.Alert, 0)
	err := s.view(func(txn *badger.Txn) error {
		return scanOwner(txn, alertPrefix, owner, func(val []byte) error {
			var a models.Alert
			if err := json.Unmarshal(val, &a); err != nil {
				return err
			}
			if a.Owner == owner {
				out = append(out, a)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	sortAlerts(out)
	return out, nil
}

// ResolveAlert implements Store.
func (s *BadgerStore) ResolveAlert(_ context.Context, id string) (models.Alert, error) {
	var out models.Alert
	err := s.update(func(txn *badger.Txn) error {
		owner, err := getString(txn, []byte(alertIDPrefix+id))
		if err != nil {
			return err
		}
		key := alertKey(owner, id)
		if err := getJSON(txn, key, &out); err != nil {
			return err
		}
		if out.Resolved {
			return nil
		}
		out.Resolved = true
		return setJSON(txn, key, out)
	})
	if err != nil {
		return models.Alert{}, err
	}
	return out, nil
}

// RunGC reclaims value log space until nothing is left to rewrite.
func (s *BadgerStore) RunGC(discardRatio float64) error {
	for {
		err := s.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
