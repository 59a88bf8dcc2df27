package spanwait

import (
	"context"
	"sync"
)

// PromptResult is how a prompt was closed.
type PromptResult int

const (
	// PromptConfirmed means the prompt was closed because the wait succeeded.
	PromptConfirmed PromptResult = iota
	// PromptCancelled means the user pressed cancel.
	PromptCancelled
)

func (r PromptResult) String() string {
	if r == PromptConfirmed {
		return "confirmed"
	}
	return "cancelled"
}

// Prompter shows the "waiting for trace" message.
type Prompter interface {
	Show(ctx context.Context, message string) (Prompt, error)
}

// Prompt is one shown message. Wait blocks until the prompt is closed by the
// user or by Dismiss, or until ctx is done, in which case it returns
// ctx.Err(). Dismiss on an already closed prompt does nothing.
type Prompt interface {
	Wait(ctx context.Context) (PromptResult, error)
	Dismiss(result PromptResult)
}

// Pending is a Prompt closed by whichever of Answer or Dismiss comes first.
type Pending struct {
	once      sync.Once
	done      chan struct{}
	result    PromptResult
	onDismiss func(PromptResult)
}

// NewPending creates an open prompt. onDismiss, if set, runs when Dismiss
// wins, so the caller can take the message off screen.
func NewPending(onDismiss func(PromptResult)) *Pending {
	return &Pending{
		done:      make(chan struct{}),
		onDismiss: onDismiss,
	}
}

// Answer closes the prompt on behalf of the user. It reports whether this
// call closed it.
func (p *Pending) Answer(result PromptResult) bool {
	return p.close(result)
}

// Dismiss closes the prompt programmatically.
func (p *Pending) Dismiss(result PromptResult) {
	if p.close(result) && p.onDismiss != nil {
		p.onDismiss(result)
	}
}

// Wait implements Prompt.
func (p *Pending) Wait(ctx context.Context) (PromptResult, error) {
	select {
	case <-p.done:
		return p.result, nil
	case <-ctx.Done():
		if p.Closed() {
			return p.result, nil
		}
		return PromptCancelled, ctx.Err()
	}
}

// Closed reports whether the prompt has been answered or dismissed.
func (p *Pending) Closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Pending) close(result PromptResult) bool {
	won := false
	p.once.Do(func() {
		p.result = result
		close(p.done)
		won = true
	})
	return won
}
