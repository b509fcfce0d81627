package review

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the review UI until the user quits or ctx is done. The view
// follows the store, so scans finishing elsewhere show up live.
func Run(ctx context.Context, backend Backend, opts ...tea.ProgramOption) error {
	model := NewReviewModel(ctx, backend)
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(model, opts...)

	backend.Store().Subscribe(func([]string) {
		// the store notifies from the coordinator's worker
		go p.Send(storeChangedMsg{})
	})

	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("review UI: %w", err)
	}
	return nil
}
