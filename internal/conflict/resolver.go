// Package conflict decides whose data is authoritative when a replayed
// mutation and the server both carry a timestamp for the same entity.
//
// The rule is last-write-wins over the two timestamps, with the server as
// the authoritative default: absent both timestamps, or on a tie, the server
// response is trusted. Resolution is pure; acting on the verdict is the
// caller's concern.
package conflict

import "time"

// Winner identifies which side's data is authoritative.
type Winner string

const (
	// WinnerServer means any locally-cached optimistic value should be
	// discarded and truth re-fetched via cache invalidation.
	WinnerServer Winner = "server"
	// WinnerClient means the replay already applied the authoritative data;
	// no corrective action is needed.
	WinnerClient Winner = "client"
)

// Resolve compares an optional server timestamp against an optional client
// timestamp. The strictly later instant wins; ties and the absent-both case
// favor the server.
func Resolve(serverTS, clientTS *time.Time) Winner {
	switch {
	case serverTS == nil && clientTS == nil:
		return WinnerServer
	case serverTS == nil:
		return WinnerClient
	case clientTS == nil:
		return WinnerServer
	case clientTS.After(*serverTS):
		return WinnerClient
	default:
		return WinnerServer
	}
}
