package audio

import (
	"context"
	"errors"
	"sync"
)

// ErrFocusDenied indicates another owner holds audio focus and refused to yield.
var ErrFocusDenied = errors.New("audio focus denied")

// Focus arbitrates exclusive use of the capture path between owners.
type Focus interface {
	Acquire(ctx context.Context, owner string) (Lease, error)
}

// Lease is a held focus grant. Lost closes when focus is taken away.
type Lease interface {
	Lost() <-chan struct{}
	Release()
}

// ExclusiveFocus grants focus to one owner at a time. A new Acquire takes
// focus from the current holder, closing its Lost channel.
type ExclusiveFocus struct {
	mu      sync.Mutex
	current *lease
	denied  bool
}

// NewExclusiveFocus returns an in-process focus arbiter.
func NewExclusiveFocus() *ExclusiveFocus {
	return &ExclusiveFocus{}
}

// Acquire grants focus to owner, revoking any previous holder.
func (f *ExclusiveFocus) Acquire(ctx context.Context, owner string) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.denied {
		return nil, ErrFocusDenied
	}
	if f.current != nil {
		f.current.revoke()
	}
	l := &lease{owner: owner, lost: make(chan struct{}), parent: f}
	f.current = l
	return l, nil
}

// Revoke takes focus from the current holder, as when another app starts playback.
func (f *ExclusiveFocus) Revoke() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return
	}
	f.current.revoke()
	f.current = nil
}

// Holder returns the owner holding focus, or "" when nobody does.
func (f *ExclusiveFocus) Holder() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return ""
	}
	return f.current.owner
}

// SetDenied makes subsequent Acquire calls fail with ErrFocusDenied.
func (f *ExclusiveFocus) SetDenied(denied bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied = denied
}

type lease struct {
	owner  string
	parent *ExclusiveFocus

	once sync.Once
	lost chan struct{}
}

func (l *lease) Lost() <-chan struct{} {
	return l.lost
}

func (l *lease) Release() {
	l.parent.mu.Lock()
	defer l.parent.mu.Unlock()
	if l.parent.current == l {
		l.parent.current = nil
	}
}

func (l *lease) revoke() {
	l.once.Do(func() { close(l.lost) })
}
