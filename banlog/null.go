package banlog

import "github.com/iwanhae/tcp-guard/types"

// Null discards block history.
type Null struct{}

func NewNull() *Null {
	return &Null{}
}

func (Null) Init() error { return nil }

func (Null) SaveBan(*types.Ban) error { return nil }

func (Null) ListBans(int) ([]*types.Ban, error) { return []*types.Ban{}, nil }

func (Null) Close() error { return nil }
