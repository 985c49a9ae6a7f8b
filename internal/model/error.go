package model

// AppError is the only error payload returned by this service in "strict mode".
// Every stage error carries one so the CLI and HTTP layer can report it without
// knowing the concrete type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage"`

	Namespace  string `json:"namespace,omitempty"`
	Identifier string `json:"identifier,omitempty"`

	URL     string `json:"url,omitempty"`
	Line    int    `json:"line,omitempty"`    // 1-based; 0 means "not set"
	Snippet string `json:"snippet,omitempty"` // <= 200 chars
	Hint    string `json:"hint,omitempty"`
}

type ErrorResponse struct {
	Error AppError `json:"error"`
}

// Coded is implemented by every error type that carries an AppError.
type Coded interface {
	error
	App() AppError
}
