package domain

// TodoStatus is the lifecycle state of one todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "todo"
	TodoInProgress TodoStatus = "in-progress"
	TodoDone       TodoStatus = "done"
)

// TodoItem is one entry of the agent's working plan. Items not in done
// status cause the orchestrator to issue a continuation request after the
// active one finishes.
type TodoItem struct {
	ID     string     `json:"id"`
	Text   string     `json:"text"`
	Status TodoStatus `json:"status"`
}
