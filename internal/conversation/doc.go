// Package conversation turns "send message" intents into durable, ordered records.
//
// # Delivery
//
//	svc := conversation.New(store, logger)
//	res, err := svc.Deliver(ctx, &conversation.DeliverRequest{
//		SenderID:        alice,
//		ConversationRef: "temp-1699999999", // placeholder, ignored
//		ReceiverID:      bob,
//		Content:         "hi",
//	})
//
// Resolution order:
//
//  1. A ConversationRef that parses as a UUID must exist and include the sender.
//     Anything else (empty, "temp-..." placeholders) is treated as absent.
//  2. Otherwise ReceiverID names the other participant; the one-to-one
//     conversation for the pair is found or created.
//
// The store guards each pair with a unique key. When two deliveries race to
// create the same conversation, the loser re-reads the winner's row, so a pair
// never ends up with two conversations.
//
// Record first, then act: the gateway pushes res.Message to live channels only
// after Deliver returns.
//
// # Errors
//
//   - ErrEmptyContent, ErrMissingReceiver, ErrInvalidReceiver: validation
//   - ErrConversationNotFound, ErrReceiverNotFound, ErrMessageNotFound: not found
//   - ErrNotParticipant: authorization
//   - ErrPersistence: wraps the underlying store error
package conversation
