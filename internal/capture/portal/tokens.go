package portal

import (
	"fmt"
	"sync/atomic"
)

// Tokens hands out the handle tokens and object paths used by portal
// requests and sessions. The counter is process-wide so concurrent capture
// inits can never collide on a request path.
type Tokens struct {
	counter atomic.Uint64
}

// DefaultTokens is the process-wide token source.
var DefaultTokens = &Tokens{}

func (t *Tokens) next() string {
	return fmt.Sprintf("mc%d", t.counter.Add(1))
}

// NextRequest returns a fresh request handle token and the request object
// path the portal will construct from it for the given sender.
func (t *Tokens) NextRequest(sender string) (token, path string) {
	token = t.next()
	return token, requestPathPrefix + sender + "/" + token
}

// NextSession returns a fresh session handle token and the matching
// session object path.
func (t *Tokens) NextSession(sender string) (token, path string) {
	token = t.next()
	return token, sessionPathPrefix + sender + "/" + token
}
