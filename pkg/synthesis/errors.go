package synthesis

import "errors"

var (
	ErrEmptyText     = errors.New("text cannot be empty")
	ErrInvalidVoice  = errors.New("invalid or unsupported voice")
	ErrRateLimited   = errors.New("provider rate limit exceeded")
	ErrEmptySample   = errors.New("voice sample is empty")
	ErrUnauthorized  = errors.New("invalid provider API key")
	ErrStreamClosed  = errors.New("audio stream closed")
	ErrNoVoiceReturn = errors.New("provider returned no voice id")
)

// ProviderError carries detail from a failed provider call.
type ProviderError struct {
	Provider  string
	Status    int
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

func (e *ProviderError) Error() string {
	msg := e.Provider + ": " + e.Message
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether err is a provider error marked as transient.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
