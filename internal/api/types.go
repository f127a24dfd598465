package api

// LookupChunkSize is how many screen names users/lookup accepts per call.
const LookupChunkSize = 100

// User is the subset of a user object the client reads.
type User struct {
	ID         int64  `json:"id"`
	IDStr      string `json:"id_str"`
	ScreenName string `json:"screen_name"`
	Name       string `json:"name"`
}
