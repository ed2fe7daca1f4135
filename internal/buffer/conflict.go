package buffer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/speedwagon-io/helmet/internal/model"
)

var ErrUnsupportedPolicy = errors.New("unsupported sync conflict policy")

type ConflictPolicy string

const (
	LocalWins     ConflictPolicy = "local-wins"
	RemoteWins    ConflictPolicy = "remote-wins"
	LastWriteWins ConflictPolicy = "last-write-wins"
)

func ParseConflictPolicy(name string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(name))); p {
	case LocalWins, RemoteWins, LastWriteWins:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPolicy, name)
	}
}

// ResolveConflict picks between two copies of the same event seen locally and
// remotely. Under last-write-wins a timestamp tie keeps the local copy.
func ResolveConflict(local, remote model.StorageEvent, policy string) (model.StorageEvent, error) {
	p, err := ParseConflictPolicy(policy)
	if err != nil {
		return model.StorageEvent{}, err
	}

	switch p {
	case LocalWins:
		return local, nil
	case RemoteWins:
		return remote, nil
	default:
		if !local.Timestamp.Before(remote.Timestamp) {
			return local, nil
		}
		return remote, nil
	}
}
