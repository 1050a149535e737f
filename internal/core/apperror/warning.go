package apperror

// Warning codes. Warnings accompany a successful result; they never fail a request.
const (
	// WarnProjectionStale: the movement was recorded but the balance row could not be
	// refreshed. The next read replays the ledger for that key.
	WarnProjectionStale = "PROJECTION_STALE"

	// WarnNegativeBalance: replay hit an outflow larger than the stock on hand and
	// clamped the balance at zero.
	WarnNegativeBalance = "NEGATIVE_BALANCE_ANOMALY"
)

// Warning is a non-fatal condition reported next to a successful result.
type Warning struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NewWarning creates a warning.
func NewWarning(code, message string) Warning {
	return Warning{Code: code, Message: message}
}

// WithDetail adds a key-value pair to warning details.
func (w Warning) WithDetail(key string, value any) Warning {
	if w.Details == nil {
		w.Details = make(map[string]any)
	}
	w.Details[key] = value
	return w
}

// HasWarning reports whether ws contains a warning with code.
func HasWarning(ws []Warning, code string) bool {
	for _, w := range ws {
		if w.Code == code {
			return true
		}
	}
	return false
}
