// Package presence tracks which users currently hold a live channel.
//
// The registry is in-memory and per process. Each user has at most one
// channel; registering a second one returns the first so the caller can
// close it with CloseSessionReplaced:
//
//	if old := reg.Register(userID, conn); old != nil {
//		old.Close(presence.CloseSessionReplaced, "session replaced")
//	}
//	defer reg.Unregister(userID, conn)
//
// Unregister compares channel identity, so the late disconnect of an evicted
// channel never removes its replacement.
package presence
