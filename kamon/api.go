// Copyright 2018 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package kamon

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// History is the read side of the outcome journal.
type History interface {
	// Recent returns the latest outcomes, newest first, optionally for one owner.
	Recent(ctx context.Context, owner *common.Address, limit int) ([]Outcome, error)
}

// API exposes the sync orchestrator over JSON-RPC. Method namespace: "kamon".
type API struct {
	orch    *Orchestrator
	history History
}

// NewAPI creates a JSON-RPC API. history may be nil.
func NewAPI(orch *Orchestrator, history History) *API {
	return &API{orch: orch, history: history}
}

// QuestCompleted handles "kamon_questCompleted" calls. It returns the id of
// the started cycle; outcomes arrive through the "outcomes" subscription.
func (api *API) QuestCompleted(owner common.Address) (string, error) {
	cycle, err := api.orch.QuestCompleted(owner)
	if err != nil {
		return "", err
	}
	return cycle.ID, nil
}

// Status handles "kamon_status" calls.
func (api *API) Status(owner common.Address) WorkflowState {
	return api.orch.Status(owner)
}

// History handles "kamon_history" calls.
func (api *API) History(ctx context.Context, owner *common.Address, limit *int) ([]Outcome, error) {
	if api.history == nil {
		return nil, errors.New("kamon: outcome journal not enabled")
	}
	n := defaultHistoryLimit
	if limit != nil && *limit > 0 {
		n = *limit
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return api.history.Recent(ctx, owner, n)
}

// Outcomes handles `kamon_subscribe("outcomes", [owner])`. Without an owner
// every outcome is delivered.
func (api *API) Outcomes(ctx context.Context, owner *common.Address) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return &rpc.Subscription{}, rpc.ErrNotificationsUnsupported
	}
	rpcSub := notifier.CreateSubscription()

	go func() {
		ch := make(chan Outcome, 16)
		sub := api.orch.SubscribeOutcomes(ch)
		defer sub.Unsubscribe()

		for {
			select {
			case out := <-ch:
				if owner != nil && out.Owner != *owner {
					continue
				}
				notifier.Notify(rpcSub.ID, out)
			case <-rpcSub.Err():
				return
			case <-sub.Err():
				return
			}
		}
	}()
	return rpcSub, nil
}
