package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const deliveryKeyPrefix = "delivery/"

// Delivery is what the Journal remembers about a sent message.
type Delivery struct {
	MessageID   string    `json:"message_id"`
	Sender      string    `json:"sender"`
	Recipients  []string  `json:"recipients"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Journal records delivered messages by Message-ID so the same message
// isn't sent twice. Entries expire with the TTL of the underlying store.
type Journal struct {
	kv KeyValue
}

// NewJournal returns a Journal backed by kv. With a NoOpDB nothing is ever
// recorded and every lookup comes back empty.
func NewJournal(kv KeyValue) *Journal {
	return &Journal{kv: kv}
}

func deliveryKey(id string) []byte {
	return []byte(deliveryKeyPrefix + id)
}

// Record stores d under its MessageID.
func (j *Journal) Record(d Delivery) error {
	if d.MessageID == "" {
		return errors.New("can't record a delivery without a message ID")
	}

	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("can't encode the delivery: %v", err)
	}

	err = j.kv.Put(KVEntry{Key: deliveryKey(d.MessageID), Value: b})
	if errors.Is(err, ErrDisabled) {
		return nil
	}
	return err
}

// Delivered looks up the delivery of the message with Message-ID id. The
// bool is false if there's no record of one.
func (j *Journal) Delivered(id string) (Delivery, bool, error) {
	e, err := j.kv.Read(deliveryKey(id))
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDisabled) {
		return Delivery{}, false, nil
	}
	if err != nil {
		return Delivery{}, false, err
	}

	var d Delivery
	if err := json.Unmarshal(e.Value, &d); err != nil {
		return Delivery{}, false, fmt.Errorf("can't decode the delivery for %v: %v", id, err)
	}
	return d, true, nil
}

// Cleanup removes expired entries from the store.
func (j *Journal) Cleanup() error {
	return j.kv.Cleanup()
}

// Close closes the underlying store.
func (j *Journal) Close() error {
	return j.kv.Close()
}
