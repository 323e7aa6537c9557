// Package dedupe remembers recently used client message IDs so that a frame
// resent by a reconnecting client is not delivered twice.
//
// Deduplication is best effort: entries live in process memory for a bounded
// window (five minutes by default) and are lost on restart.
//
//	cache := dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize)
//	defer cache.Close()
//	if cache.Seen(senderID, clientMessageID) {
//		// drop
//	}
package dedupe
