package auth

// Scopes checked by the plan API.
const (
	ScopePlansRead  = "plans:read"
	ScopePlansWrite = "plans:write"
)
