package answerflow

// ErrorKind classifies pipeline failures for the `error` SSE event and the
// local recovery policy. Follows the same string-enum-with-IsValid pattern
// as [config.LogLevel].
type ErrorKind string

const (
	BadRequest          ErrorKind = "BadRequest"
	UpstreamUnavailable ErrorKind = "UpstreamUnavailable"
	ValidatorFailed     ErrorKind = "ValidatorFailed"
	KMFailed            ErrorKind = "KMFailed"
	LLMFailed           ErrorKind = "LLMFailed"
	TTSFailed           ErrorKind = "TTSFailed"
	ClientDisconnected  ErrorKind = "ClientDisconnected"
)

// IsValid reports whether k is a recognised error kind.
func (k ErrorKind) IsValid() bool {
	switch k {
	case BadRequest, UpstreamUnavailable, ValidatorFailed, KMFailed, LLMFailed, TTSFailed, ClientDisconnected:
		return true
	}
	return false
}

// Recoverable reports whether k allows the pipeline to continue with a
// degraded fallback: a validator, KM, or TTS failure degrades gracefully;
// a bad request, an unrecoverable upstream outage, an LLM failure, or a
// client disconnect has no fallback. A kind that is not recoverable does
// not by itself end the stream: after an LLM failure the orchestrator
// still finishes with a complete event.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case ValidatorFailed, KMFailed, TTSFailed:
		return true
	}
	return false
}
