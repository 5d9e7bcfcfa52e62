package lockbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	g "github.com/pandodao/generic"
)

var (
	envelopePrefix = []byte("e:")
	escrowPrefix   = []byte("s:")
	balancePrefix  = []byte("b:")
	eventPrefix    = []byte("v:")
	propertyPrefix = []byte("p:")
)

const envelopeSeqProperty = "envelope_seq"

func saveProperty(txn *badger.Txn, key string, value any) error {
	pk := buildIndexKey(propertyPrefix, key)

	e := badger.NewEntry(pk, g.Must(json.Marshal(value)))
	return txn.SetEntry(e)
}

// readProperty leaves value untouched if the property was never written.
func readProperty(txn *badger.Txn, key string, value any) error {
	pk := buildIndexKey(propertyPrefix, key)

	item, err := txn.Get(pk)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}

		return err
	}

	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, value)
	})
}

// nextEnvelopeID allocates a fresh envelope id from the single counter
// record. The allocation commits together with the entity it identifies.
func nextEnvelopeID(txn *badger.Txn) (uint64, error) {
	var id uint64
	if err := readProperty(txn, envelopeSeqProperty, &id); err != nil {
		return 0, err
	}

	id++
	if err := saveProperty(txn, envelopeSeqProperty, id); err != nil {
		return 0, err
	}

	return id, nil
}

func saveEnvelope(txn *badger.Txn, env *Envelope) error {
	pk := buildIndexKey(envelopePrefix, env.ID)

	e := badger.NewEntry(pk, g.Must(json.Marshal(env)))
	return txn.SetEntry(e)
}

func findEnvelope(txn *badger.Txn, id uint64) (*Envelope, error) {
	pk := buildIndexKey(envelopePrefix, id)

	item, err := txn.Get(pk)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: envelope %d", ErrNotFound, id)
		}

		return nil, err
	}

	var env Envelope
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &env)
	}); err != nil {
		return nil, err
	}

	return &env, nil
}

func saveEscrow(txn *badger.Txn, esc *Escrow) error {
	pk := buildIndexKey(escrowPrefix, esc.ID)

	e := badger.NewEntry(pk, g.Must(json.Marshal(esc)))
	return txn.SetEntry(e)
}

func hasEscrow(txn *badger.Txn, id string) (bool, error) {
	pk := buildIndexKey(escrowPrefix, id)

	if _, err := txn.Get(pk); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

func findEscrow(txn *badger.Txn, id string) (*Escrow, error) {
	pk := buildIndexKey(escrowPrefix, id)

	item, err := txn.Get(pk)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: escrow %s", ErrNotFound, id)
		}

		return nil, err
	}

	var esc Escrow
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &esc)
	}); err != nil {
		return nil, err
	}

	return &esc, nil
}

// appendEvent writes the audit record inside the transition's own txn so the
// history and the state change commit together.
func appendEvent(txn *badger.Txn, evt *Event) error {
	pk := buildIndexKey(
		eventPrefix,
		evt.CreatedAt.UnixNano(),
		evt.ID,
	)

	e := badger.NewEntry(pk, g.Must(json.Marshal(evt)))
	return txn.SetEntry(e)
}

func listEvents(txn *badger.Txn, since time.Time, limit int) ([]*Event, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = limit
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	if since.IsZero() {
		// position after the whole prefix range so the reverse walk
		// starts at the newest event
		seek := append([]byte(nil), eventPrefix...)
		seek[len(seek)-1]++
		it.Seek(seek)
	} else {
		it.Seek(buildIndexKey(eventPrefix, since.UnixNano()))
	}

	var events []*Event
	for ; it.ValidForPrefix(eventPrefix) && len(events) < limit; it.Next() {
		item := it.Item()

		var evt Event
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &evt)
		}); err != nil {
			return nil, err
		}

		events = append(events, &evt)
	}

	return events, nil
}

func ListEvents(db *badger.DB, since time.Time, limit int) ([]*Event, error) {
	txn := db.NewTransaction(false)
	defer txn.Discard()

	return listEvents(txn, since, limit)
}

func newEvent(topic string, now time.Time, payload any) *Event {
	return &Event{
		ID:        uuid.New(),
		Topic:     topic,
		CreatedAt: now,
		Payload:   payload,
	}
}
