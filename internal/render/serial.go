// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package render

import "time"

// NextSerial computes the serial for a modified master zone:
// max(old+1, yyyymmdd01), continuing with plain increments while inside
// (or beyond) today's date window. The returned flag reports that the
// date form could not be used, so the caller can log it.
func NextSerial(old uint32, now time.Time) (uint32, bool) {
	y, m, d := now.UTC().Date()
	dateBase := uint32(y)*1000000 + uint32(m)*10000 + uint32(d)*100 // yyyymmdd00

	next := old + 1
	if next == 0 {
		// 32-bit wrap. Serial arithmetic would need RFC 1982 handling on the
		// consumer side; restart the window and report it.
		return dateBase + 1, true
	}
	if dateBase+1 > next {
		return dateBase + 1, false
	}
	// More than 99 edits today, or a serial already ahead of the date form.
	return next, next > dateBase+99
}
