package types

import "time"

// Ban is one block event recorded for audit. It does not drive admission;
// the state store's blocked key does.
type Ban struct {
	IP     string
	Reason string
	At     time.Time
	Until  time.Time
}

// BanStore persists block history.
type BanStore interface {
	Init() error
	SaveBan(ban *Ban) error
	ListBans(limit int) ([]*Ban, error)
	Close() error
}
