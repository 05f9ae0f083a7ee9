// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package refresh

import "time"

func testTime() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }

func (p *Pipeline) busy(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inFlight[id]
	return ok
}
