package relay

import (
	"sort"
	"strings"
)

const roomSeparator = ":"

// RoomID derives the direct-message room for two users. Both sides compute
// the same id without coordination. Ids are only unique for usernames that
// pass CanJoinRooms.
func RoomID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, roomSeparator)
}

// CanJoinRooms reports whether username can be part of a room id. A separator
// inside a name would let "a" + "b:c" and "a:b" + "c" share one room.
func CanJoinRooms(username string) bool {
	return username != "" && !strings.Contains(username, roomSeparator)
}

// RoomMembers splits a room id back into its two usernames. ok is false for
// anything RoomID could not have produced.
func RoomMembers(room string) (a, b string, ok bool) {
	parts := strings.Split(room, roomSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	if RoomID(parts[0], parts[1]) != room {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// IsMember reports whether username is one of the room's two users
func IsMember(room, username string) bool {
	a, b, ok := RoomMembers(room)
	return ok && (a == username || b == username)
}
