package persistence

import "multi-strategy-bot-go/internal/models"

// StateRepository abstracts session-state storage from the rest of the
// application so tests can substitute an in-memory implementation.
type StateRepository interface {
	// SaveState atomically saves the entire session state.
	SaveState(state *models.SessionState) error

	// LoadState loads the session state from storage.
	// If no state is found, it returns (nil, nil).
	LoadState() (*models.SessionState, error)

	// Close gracefully closes the underlying database.
	Close() error
}
