package checkpoint

// KeyPrefix namespaces checkpoint keys in Redis.
const KeyPrefix = "whatsnews:checkpoint"

// Key identifies the checkpoint of one source item. The source id is used
// verbatim since it is the store's identity key.
type Key struct {
	SourceID string
}

// String returns the Redis key.
// Format: whatsnews:checkpoint:<source_id>
func (k Key) String() string {
	return KeyPrefix + ":" + k.SourceID
}
