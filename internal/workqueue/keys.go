package workqueue

import (
	"github.com/rzbill/durq/internal/storage"
	"github.com/rzbill/durq/pkg/id"
)

// cursorKey is the metadata entry holding the main key of the last taken
// message.
var cursorKey = []byte("last-fetched-id")

func ephemeralKey(msgID string) []byte { return []byte(msgID) }

// deadKey holds a main entry that could not be decoded.
func deadKey(mainKey []byte) []byte {
	return append([]byte("dead/"), mainKey...)
}

// floor returns the greatest main key this queue has ever handed out, so the
// key generator never reissues one after a restart.
func floor(store storage.Store, cursor []byte) (id.ID, error) {
	var max id.ID
	if k, err := id.FromBytes(cursor); err == nil {
		max = k
	}
	last, ok, err := store.Last(storage.Main)
	if err != nil || !ok {
		return max, err
	}
	if k, err := id.FromBytes(last); err == nil && k.Compare(max) > 0 {
		max = k
	}
	return max, nil
}
