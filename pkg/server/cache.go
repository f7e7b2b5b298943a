// Copyright 2026 The Skein Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/skeinhq/skein/internal/apperr"
	"github.com/skeinhq/skein/internal/csync"
	"github.com/skeinhq/skein/internal/network"
)

// networkCache resolves a networkId arriving on the wire to a live network,
// resuming it through the manager when the request targets a network that
// isn't the one currently focused. This keeps the HTTP layer stateless with
// respect to which network a terminal UI happens to have in front: any
// request can address any persisted network by id.
//
// The manager loads every persisted network's metadata at construction, so
// a lookup miss here means the id is genuinely unknown, not merely cold.
// singleflight collapses concurrent resumes of the same id so two
// simultaneous requests can't double-resume one network.
type networkCache struct {
	manager *network.Manager
	known   *csync.Map[string, *network.AgentNetwork]
	group   singleflight.Group
}

func newNetworkCache(manager *network.Manager) *networkCache {
	return &networkCache{manager: manager, known: csync.NewMap[string, *network.AgentNetwork]()}
}

type resolvedNetwork struct {
	net        *network.AgentNetwork
	wasResumed bool
}

// Resolve returns the network for id, resuming it first if it isn't the
// manager's current network. The second return reports whether a resume
// actually happened, for logging.
func (c *networkCache) Resolve(ctx context.Context, id string) (*network.AgentNetwork, bool, error) {
	net, ok := c.known.Get(id)
	if !ok {
		if net, ok = c.manager.Network(id); !ok {
			return nil, false, fmt.Errorf("network %s: %w", id, apperr.ErrNetworkNotFound)
		}
		c.known.Set(id, net)
	}
	if c.manager.IsCurrent(id) {
		return net, false, nil
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		// Re-check under the singleflight: a concurrent caller may have
		// finished the resume while this one queued.
		if c.manager.IsCurrent(id) {
			return resolvedNetwork{net: net}, nil
		}
		if err := c.manager.Resume(ctx, net); err != nil {
			return nil, fmt.Errorf("resume network %s: %w", id, err)
		}
		return resolvedNetwork{net: net, wasResumed: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(resolvedNetwork)
	return res.net, res.wasResumed, nil
}
