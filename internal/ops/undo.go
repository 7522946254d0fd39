package ops

// command is one applied operation and its inverse. apply re-runs the
// operation for redo; revert undoes it. Both closures capture the concrete
// arguments (including restored cell contents) at record time, so replaying
// them never consults stale engine state.
type command struct {
	id     string // transaction id, stamped into logs for correlation
	name   string
	apply  func() error
	revert func() error
}

// UndoLog is a linear undo/redo history of inverse commands.
type UndoLog struct {
	undo []*command
	redo []*command
}

// NewUndoLog creates an empty log.
func NewUndoLog() *UndoLog {
	return &UndoLog{}
}

// Push records a freshly-applied command and clears the redo stack: a new
// edit after an undo forks history, and the abandoned branch is dropped.
func (l *UndoLog) Push(cmd *command) {
	l.undo = append(l.undo, cmd)
	l.redo = l.redo[:0]
}

// PushUndo re-stacks a command after a successful redo, without clearing
// the redo stack.
func (l *UndoLog) PushUndo(cmd *command) {
	l.undo = append(l.undo, cmd)
}

// PopUndo removes and returns the most recent command, if any.
func (l *UndoLog) PopUndo() (*command, bool) {
	n := len(l.undo)
	if n == 0 {
		return nil, false
	}
	cmd := l.undo[n-1]
	l.undo = l.undo[:n-1]
	return cmd, true
}

// PushRedo stacks an undone command for redo.
func (l *UndoLog) PushRedo(cmd *command) {
	l.redo = append(l.redo, cmd)
}

// PopRedo removes and returns the most recently undone command, if any.
func (l *UndoLog) PopRedo() (*command, bool) {
	n := len(l.redo)
	if n == 0 {
		return nil, false
	}
	cmd := l.redo[n-1]
	l.redo = l.redo[:n-1]
	return cmd, true
}

// UndoDepth returns the undo stack depth.
func (l *UndoLog) UndoDepth() int { return len(l.undo) }

// RedoDepth returns the redo stack depth.
func (l *UndoLog) RedoDepth() int { return len(l.redo) }
