// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package enrich

import "time"

var testNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
