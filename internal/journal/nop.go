package journal

import "context"

// Nop is a Journal that records nothing. Used when history is disabled.
type Nop struct{}

func (Nop) StartRun(context.Context, string, string, int) (string, error) { return "", nil }
func (Nop) FinishRun(context.Context, string, string) error              { return nil }
func (Nop) RecordPhase(context.Context, string, string, int) error       { return nil }
func (Nop) RecordTransition(context.Context, string, string, int, string, string) error {
	return nil
}
func (Nop) History(context.Context, string) ([]RunRecord, error)          { return nil, nil }
func (Nop) Transitions(context.Context, string) ([]TransitionRecord, error) { return nil, nil }
func (Nop) Close() error                                                  { return nil }
