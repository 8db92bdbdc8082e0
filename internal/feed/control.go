package feed

import (
	"github.com/oklog/ulid/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// subscribeMode selects last-traded-price snapshots from the feed.
const subscribeMode = "ltpc"

// subscribeMessage builds the outbound control message requesting data for
// the given instrument keys. The guid correlates the server's ack with the
// request in the feed provider's logs.
func subscribeMessage(instrumentKeys []string) ([]byte, error) {
	return msgpack.Marshal(map[string]interface{}{
		"guid":   ulid.Make().String(),
		"method": "sub",
		"data": map[string]interface{}{
			"mode":           subscribeMode,
			"instrumentKeys": instrumentKeys,
		},
	})
}
