package bridge

import (
	"sync"

	canonicaljson "github.com/gibson042/canonicaljson-go"
)

// Responder is the reply-once token handed to every handler invocation.
// Only the first Resolve or Reject has an effect; later calls, including
// calls after the handler timed out, are dropped.
type Responder struct {
	id   string
	once sync.Once
	ch   chan Reply
}

func newResponder(id string) *Responder {
	return &Responder{id: id, ch: make(chan Reply, 1)}
}

// Resolve replies with value encoded as canonical JSON. A nil value replies
// with JSON null.
func (r *Responder) Resolve(value any) {
	if value == nil {
		r.send(valueReply(r.id, nil))
		return
	}

	encoded, err := canonicaljson.Marshal(value)
	if err != nil {
		r.send(errorReply(r.id, "encoding reply: "+err.Error()))
		return
	}
	r.send(valueReply(r.id, encoded))
}

// Reject replies with err's description.
func (r *Responder) Reject(err error) {
	msg := fallbackErrorMessage
	if err != nil {
		msg = err.Error()
	}
	r.send(errorReply(r.id, msg))
}

func (r *Responder) send(reply Reply) bool {
	sent := false
	r.once.Do(func() {
		r.ch <- reply
		sent = true
	})
	return sent
}

// expire consumes the token so late resolutions are dropped.
func (r *Responder) expire() bool {
	expired := false
	r.once.Do(func() { expired = true })
	return expired
}
