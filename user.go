package overlaycache

// User identifies whose pending writes an overlay cache holds. The zero value
// is the unauthenticated user.
type User struct {
	UID string
}

var Unauthenticated = User{}

func (u User) IsAuthenticated() bool {
	return u.UID != ""
}

// NormalizedID returns the user id as stored in keys; the unauthenticated
// user maps to the empty string.
func (u User) NormalizedID() string {
	if !u.IsAuthenticated() {
		return ""
	}
	return u.UID
}

func (u User) String() string {
	if !u.IsAuthenticated() {
		return "<anonymous>"
	}
	return u.UID
}
