package apperr

type Kind string

type AppError struct {
	Kind      Kind
	PublicMsg string            // safe to show to the caller
	Fields    map[string]string // per-field validation errors (optional)
	Current   string            // current status for invalid_state
	Allowed   []string          // statuses the caller may move to instead
	Err       error             // internal cause, logged only
}
