package redis

import (
	"fmt"
	"strings"
)

const (
	roomChannelPrefix     = "relay:events:room:"
	instanceChannelPrefix = "relay:events:instance:"
	instancesKey          = "relay:instances"

	// membershipSep joins room and connection ids in the per-instance index.
	membershipSep = "\x1f"
)

// Scripts touch room keys and the owning instance's index together, so
// all keys must live on one node: standalone redis or a single shard.
func roomMembersKey(roomID string) string {
	return fmt.Sprintf("relay:room:%s:members", roomID)
}

func roomOrderKey(roomID string) string {
	return fmt.Sprintf("relay:room:%s:order", roomID)
}

func roomSeqKey(roomID string) string {
	return fmt.Sprintf("relay:room:%s:seq", roomID)
}

func instanceMembershipsKey(instanceID string) string {
	return fmt.Sprintf("relay:instance:%s:memberships", instanceID)
}

func instanceAliveKey(instanceID string) string {
	return fmt.Sprintf("relay:instance:%s:alive", instanceID)
}

func roomChannel(roomID string) string {
	return roomChannelPrefix + roomID
}

func instanceChannel(instanceID string) string {
	return instanceChannelPrefix + instanceID
}

func splitMembership(entry string) (roomID, connectionID string, ok bool) {
	idx := strings.LastIndex(entry, membershipSep)
	if idx < 0 {
		return "", "", false
	}
	return entry[:idx], entry[idx+len(membershipSep):], true
}
