package sharding

import (
	"fmt"
	"hash/crc32"
)

// ShardCount is the fixed number of activity-stream partitions.
const ShardCount = 256

// GetShardID calculates the deterministic shard ID for a given owner ID.
func GetShardID(ownerID string) int {
	checksum := crc32.ChecksumIEEE([]byte(ownerID))
	return int(checksum % ShardCount)
}

// GetSubject returns the NATS subject for an owner's activity events.
// Format: app.activity.{shard_id}.user.{owner_id}
func GetSubject(ownerID string) string {
	return fmt.Sprintf("app.activity.%d.user.%s", GetShardID(ownerID), ownerID)
}
