// Command backfill-sessions closes out session rows orphaned by a server
// crash — rows with no endedAt because the process died before the host
// disconnected cleanly. Adapted from the teacher's backfill-minutes tool:
// same flag-driven batch-job shape, retargeted from meeting-minutes
// generation onto session-record cleanup (spec.md §4.12).
package main

import (
	"flag"
	"log"
	"time"

	"realtime-caption-translator/internal/store"
)

func main() {
	limit := flag.Int("limit", 100, "Maximum number of orphaned sessions to close per run")
	olderThan := flag.Duration("older-than", time.Hour, "Only close sessions started at least this long ago")
	flag.Parse()

	if err := store.Init(); err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer store.Close()

	sessions, err := store.ListUnendedSessions()
	if err != nil {
		log.Fatalf("list unended sessions: %v", err)
	}

	cutoff := time.Now().Add(-*olderThan)
	closed := 0
	for _, s := range sessions {
		if closed >= *limit {
			break
		}
		if s.StartedAt.After(cutoff) {
			continue // still plausibly live
		}
		if err := store.EndSession(s.ID); err != nil {
			log.Printf("close session %s: %v", s.ID, err)
			continue
		}
		closed++
	}

	log.Printf("backfill-sessions: closed %d/%d orphaned sessions", closed, len(sessions))
}
