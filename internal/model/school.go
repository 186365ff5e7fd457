package model

// School represents a row in the `schools` table. Schools are
// shared between users and identified by their registered domain
// name (e.g. "gatech.edu"). BannerBaseURL is nil until either
// autodiscovery or a user-supplied URL resolves it; once
// autodiscovery has failed for a school the AutodetectFailed latch
// stops every later user from repeating the lookup.
//
// Fields:
//  ID               – primary key identifier.
//  Name             – unique school domain name.
//  BannerBaseURL    – base URL of the school's Banner instance (nullable).
//  AutodetectFailed – whether autodiscovery already failed for this school.
type School struct {
	ID               uint64  // schools.id
	Name             string  // schools.name
	BannerBaseURL    *string // schools.banner_base_url (nullable)
	AutodetectFailed bool    // schools.autodetect_failed
}
