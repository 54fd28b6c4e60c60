// Package engine implements the splitting engine: the search that turns a
// target value into a combination of exclusive records whose sum approaches
// the target from below.
//
// ALGORITHM (deterministic greedy with bounded compensation):
//
//  1. Binary-search the active bucket for the largest Unused value not
//     exceeding the remaining budget; widen to smaller buckets when the
//     local bucket is exhausted.
//  2. Reserve the pick through the allocation store. A reservation conflict
//     excludes the record from this attempt and re-runs the search - the
//     record may have just been taken by a concurrent request.
//  3. Stop when the remaining budget falls below the smallest available
//     value or the item cap is reached.
//  4. If the leftover error exceeds the tolerance, run bounded compensation:
//     hold the last pick, probe up to k replacement pairs whose combined
//     value fits the freed budget, and swap only on strict error reduction.
//  5. Ties on value break toward the lexicographically smallest record ID,
//     so equal pools always produce equal answers.
//
// This is an explicit heuristic, not an exact subset-sum solver: it trades
// optimality for bounded latency. Callers needing a provably optimal answer
// will not get one here.
//
// The engine reserves records while it works and hands the still-reserved
// candidate to the caller, who must either Commit or Release it. A failed
// search rolls back its own reservations before returning; no code path
// leaves a record Reserved without an owner.
package engine
