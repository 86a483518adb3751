package context

type Key string

const (
	AdminKey Key = "admin_key"
	Params   Key = "params"
)
