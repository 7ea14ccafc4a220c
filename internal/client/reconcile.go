// Package client implements the client-side sync core: a reconnecting
// connection manager and a room subscription that keeps a local message
// list consistent with the server across optimistic sends, live
// broadcasts, and post-reconnect sync frames.
package client

import "github.com/hardspoon/chatsemble/internal/domain"

// UpdateMessageList merges one incoming message into an ordered message
// list and returns the updated list. Rules, in order:
//
//  1. addAsNew appends unconditionally. Used for client-local
//     optimistic messages, which by construction match nothing.
//  2. An incoming message whose optimistic id matches an existing
//     message's id replaces that message in place: the server-confirmed
//     copy supersedes the optimistic one without reordering.
//  3. An incoming message whose id matches an existing message's id
//     replaces it in place. This makes re-delivery idempotent and
//     carries corrections such as streamed tool annotations.
//  4. Otherwise the message is appended.
func UpdateMessageList(list []domain.ChatRoomMessage, incoming domain.ChatRoomMessage, addAsNew bool) []domain.ChatRoomMessage {
	if addAsNew {
		return append(list, incoming)
	}

	if oid := incoming.OptimisticID(); oid != "" {
		for i := range list {
			if list[i].ID == oid {
				list[i] = incoming
				return list
			}
		}
	}

	for i := range list {
		if list[i].ID == incoming.ID {
			list[i] = incoming
			return list
		}
	}

	return append(list, incoming)
}
