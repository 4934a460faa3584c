package config

// ConfigBackend is the platform store behind `vidsum config set`.
// Keys are the dotted names from the key table ("server.port").
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
