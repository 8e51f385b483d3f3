package consts

// ContextKey is a custom type for context keys to avoid collisions between packages.
type ContextKey string

const (
	// DBRoleKey carries the database role (primary or replica) requested for
	// the work running under a context. Children inherit it and siblings
	// never see each other's value.
	DBRoleKey = ContextKey("db_role")
)
