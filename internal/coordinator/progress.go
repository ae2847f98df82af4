// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package coordinator

import (
	"context"
	"sync"

	"github.com/jobtrail/ingestion/internal/models"
)

// hub fans progress updates out to in-process subscribers (the SSE
// handlers). Slow subscribers drop updates rather than stall the sync.
type hub struct {
	mu   sync.Mutex
	subs map[int64]map[chan models.Progress]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[int64]map[chan models.Progress]struct{})}
}

func (h *hub) publish(userID int64, p models.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[userID] {
		select {
		case ch <- p:
		default:
		}
	}
}

// Subscribe registers a progress listener for one user. The returned cancel
// must be called when the listener goes away.
func (c *Coordinator) Subscribe(userID int64) (<-chan models.Progress, func()) {
	ch := make(chan models.Progress, 16)

	c.hub.mu.Lock()
	set, ok := c.hub.subs[userID]
	if !ok {
		set = make(map[chan models.Progress]struct{})
		c.hub.subs[userID] = set
	}
	set[ch] = struct{}{}
	c.hub.mu.Unlock()

	cancel := func() {
		c.hub.mu.Lock()
		delete(c.hub.subs[userID], ch)
		if len(c.hub.subs[userID]) == 0 {
			delete(c.hub.subs, userID)
		}
		c.hub.mu.Unlock()
	}
	return ch, cancel
}

// Progress reads the persisted sync state for one user. A user who never
// synced gets an idle zero-value record.
func (c *Coordinator) Progress(ctx context.Context, userID int64) (models.Progress, error) {
	st, err := c.store.GetSyncState(ctx, userID)
	if err != nil {
		return models.Progress{}, err
	}
	if st == nil {
		return models.Progress{Status: models.SyncIdle}, nil
	}
	return models.Progress{
		Status:    st.Status,
		Message:   st.Message,
		Processed: st.Processed,
		Total:     st.Total,
		Created:   st.Created,
		Skipped:   st.Skipped,
		Errors:    st.Errors,
		Error:     st.Error,
	}, nil
}
