package auth

// Principal is the resolved identity a bearer credential maps to.
type Principal struct {
	UserID   int64
	Username string
}
