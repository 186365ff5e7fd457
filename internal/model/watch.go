package model

// WatchEntry links a user to a course they want availability
// notifications for. Uniqueness of the (UserID, CourseID) pair is
// enforced by the repository inside its insert transaction.
type WatchEntry struct {
	ID       uint64 // watchlist.id
	UserID   uint64 // watchlist.user_id
	CourseID uint64 // watchlist.course_id
}
