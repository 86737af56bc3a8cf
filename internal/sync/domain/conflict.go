// Package domain holds the sync protocol types shared by the store, the remote client
// and the manager: server records, push outcomes, cursors and the conflict policy.
package domain

import "time"

// Side is the part of a record state that conflict resolution looks at.
type Side struct {
	Version   int64
	UpdatedAt time.Time
}

// Winner names the side whose payload survives a conflict.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
)

// Resolve picks the surviving side. The higher version wins; equal versions fall back to
// the later UpdatedAt. A tie the timestamps cannot break prefers the remote, which is
// the durable merge point across devices. That covers identical timestamps and a side
// with no timestamp at all, as in push conflict responses. The result depends only on
// the two states, never on call order.
func Resolve(local, remote Side) Winner {
	switch {
	case local.Version > remote.Version:
		return WinnerLocal
	case local.Version < remote.Version:
		return WinnerRemote
	case local.UpdatedAt.IsZero() || remote.UpdatedAt.IsZero():
		return WinnerRemote
	case local.UpdatedAt.After(remote.UpdatedAt):
		return WinnerLocal
	default:
		return WinnerRemote
	}
}

// RebaseVersion is the version a winning local state must carry so the server accepts it
// over remoteVersion.
func RebaseVersion(localVersion, remoteVersion int64) int64 {
	if localVersion > remoteVersion {
		return localVersion
	}
	return remoteVersion + 1
}
