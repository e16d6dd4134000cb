// Package progress contains the per-user aggregate of the study engine.
//
// The package defines:
//
//   - Profile: the ProfileAggregate with XP, level, streak counters and
//     privacy flags.
//   - DailySummary: one row per (user, UTC calendar day) with the total
//     seconds studied that day.
//   - Streak rules: DecideStreak picks the transition for the first session
//     of a day; Profile.ApplyStreak applies it.
//   - Repository contracts: Transactor and UnitOfWork for the write path,
//     ReadRepository for profile screens.
//
// # Ownership
//
// XP, level, streaks and daily totals are written only by the session
// completion handler, inside Transactor.WithinUserLock. Settings (display
// name, leaderboard opt-in, public profile) are written through
// ReadRepository.UpdateSettings and never touch counters.
//
// # Level policy
//
// level = 1 + floor(xp / SecondsPerLevel), with SecondsPerLevel = 3600 by
// default (one level per hour). The level is recomputed from XP whenever XP
// changes and is never stored on its own.
//
// # Streak order
//
// For each session:
//
//	hasToday := uow.HasSummary(user, day)            // before the upsert
//	if !hasToday {
//	    latest := uow.LatestSummaryBefore(user, day)
//	    profile.ApplyStreak(DecideStreak(day, latest))
//	}
//	uow.UpsertAddSummary(user, day, seconds)
//
// Checking after the upsert would always see today's row and never move the
// streak; checking without the per-user lock lets two concurrent sessions
// both see "first of the day".
package progress
