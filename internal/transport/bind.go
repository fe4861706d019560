package transport

import "github.com/danmuck/devsession/internal/protocol/session"

// Bound sends on behalf of one task so responses and failures route back
// to it.
type Bound struct {
	t     *Transport
	owner uint64
}

func (t *Transport) Bind(owner uint64) Bound {
	return Bound{t: t, owner: owner}
}

func (b Bound) SendRequest(msg session.Message, dest string) (string, error) {
	return b.t.SendRequest(b.owner, msg, dest)
}

func (b Bound) SendResponse(transID string, msg session.Message) error {
	return b.t.SendResponse(transID, msg)
}
