package model

// User represents a chat user as stored in the `users` table.
// A user is created lazily on first contact and only ever removed
// by an explicit, confirmed reset. SchoolID stays nil until the
// setup conversation has resolved the user's school.
//
// Fields:
//  ID         – primary key identifier of the user.
//  ExternalID – unique identity on the chat transport.
//  SchoolID   – school the user belongs to (nullable).
//  State      – encoded conversation state; see conversation.State.
type User struct {
	ID         uint64  // users.id
	ExternalID string  // users.external_id
	SchoolID   *uint64 // users.school_id (nullable)
	State      int     // users.state
}
