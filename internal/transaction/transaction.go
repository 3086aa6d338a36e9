// Package transaction records in-flight switches so a run interrupted
// between exposing binaries and writing the active pointer can be brought
// back to a consistent state, and provides a cross-process lock for
// operations that cannot be made idempotent.
package transaction

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ZebulonRouseFrantzich/toolup/internal/atomicfs"
	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

// JournalFile is the journal name inside a component directory.
const JournalFile = ".switch.json"

// State represents the progress of a switch.
type State string

const (
	StatePending    State = "pending"
	StateExposed    State = "exposed"
	StateCompleted  State = "completed"
	StateRolledBack State = "rolled_back"
)

// SwitchTxn journals one switch of a component's active version.
type SwitchTxn struct {
	Version   int                  `json:"version"` // Schema version for future evolution
	ID        string               `json:"id"`
	Component string               `json:"component"`
	From      *model.ActivePointer `json:"from,omitempty"`
	To        model.ActivePointer  `json:"to"`
	Binaries  []string             `json:"binaries"`
	State     State                `json:"state"`
	Timestamp time.Time            `json:"timestamp"`
	LastError string               `json:"last_error,omitempty"`
}

// New creates a pending switch from the current pointer (nil when none) to to.
func New(from *model.ActivePointer, to model.ActivePointer, binaries []string) *SwitchTxn {
	return &SwitchTxn{
		Version:   1,
		ID:        uuid.New().String(),
		Component: to.Component,
		From:      from,
		To:        to,
		Binaries:  append([]string(nil), binaries...),
		State:     StatePending,
		Timestamp: time.Now().UTC(),
	}
}

// Path returns the journal path of component under root.
func Path(root, component string) string {
	return filepath.Join(root, component, JournalFile)
}

// Save writes the journal atomically.
func (t *SwitchTxn) Save(root string) error {
	if err := atomicfs.WriteJSON(Path(root, t.Component), t, 0600); err != nil {
		return fmt.Errorf("save switch journal: %w", err)
	}
	return nil
}

// SetState records a state transition and the error that caused it, if any.
func (t *SwitchTxn) SetState(state State, err error) {
	t.State = state
	if err != nil {
		t.LastError = err.Error()
	} else {
		t.LastError = ""
	}
}

// Load reads the journal of component. It returns nil when none exists.
func Load(root, component string) (*SwitchTxn, error) {
	var txn SwitchTxn
	if err := atomicfs.ReadJSON(Path(root, component), &txn); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read switch journal: %w", err)
	}
	return &txn, nil
}

// Clear removes the journal of component.
func Clear(root, component string) error {
	if err := os.Remove(Path(root, component)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove switch journal: %w", err)
	}
	return nil
}

// Finished reports whether the switch reached a terminal state.
func (t *SwitchTxn) Finished() bool {
	return t.State == StateCompleted || t.State == StateRolledBack
}
