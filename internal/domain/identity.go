package domain

// Identity is the caller of a single request. The zero value is the
// anonymous identity.
type Identity struct {
	Username string
}

func Anonymous() Identity {
	return Identity{}
}

func Authenticated(username string) Identity {
	return Identity{Username: username}
}

func (i Identity) Authenticated() bool {
	return i.Username != ""
}
