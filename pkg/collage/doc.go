// Package collage collects images per user and renders them into a single
// collage once the user signals completion or goes quiet.
//
// Invariants:
// - Each user has at most one active session; starting a new one replaces it.
// - Images are appended in arrival order and rendered in that order.
// - A session is finalized exactly once, by keyword or by debounce expiry.
// - A cancelled or superseded debounce timer never finalizes a session.
//
// Usage:
//
//	ctrl, err := collage.New(collage.Config{
//		Settings: collage.Settings{CompletionKeyword: "done", Debounce: 10 * time.Second, MinImages: 2},
//		Renderer: renderer,
//		Sender:   sender,
//		Metrics:  m,
//		Logger:   log.Logger,
//	})
//	ctrl.Start(ctx, userID, chatID, "horizontal")
//	ctrl.OnMessage(ctx, collage.Message{UserID: userID, ChatID: chatID, Images: urls})
package collage
