package blob

import "fmt"

type step int

const (
	stepNew step = iota
	stepEncoded
	stepRegistered
	stepUploaded
	stepCertified
)

func (s step) String() string {
	return [...]string{"new", "encoded", "registered", "uploaded", "certified"}[s]
}

// sequence enforces the flow ordering shared by every publisher.
type sequence struct {
	at step
}

func (q *sequence) advance(from, to step) error {
	if q.at != from {
		return fmt.Errorf("%w: %s requires %s, flow is %s", ErrFlowOrder, to, from, q.at)
	}
	q.at = to
	return nil
}

func (q *sequence) done() bool { return q.at == stepCertified }
