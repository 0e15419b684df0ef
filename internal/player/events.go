package player

// State is the playback lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateBuffering State = "buffering"
	StateEnded     State = "ended"
	StateErrored   State = "errored"
)

// ErrorKind classifies playback errors surfaced to the UI layer.
type ErrorKind string

const (
	// ErrorManifestUnavailable means the master manifest could not be fetched.
	ErrorManifestUnavailable ErrorKind = "manifest_unavailable"

	// ErrorUnsupported means no offered variant is playable by this client.
	ErrorUnsupported ErrorKind = "unsupported"

	// ErrorPlaybackStalled is transient: the buffer underran and playback is
	// paused until it refills. Recovered automatically.
	ErrorPlaybackStalled ErrorKind = "playback_stalled"

	// ErrorFatalPlayback means segment fetching failed repeatedly even after
	// falling back to the lowest-bandwidth variant.
	ErrorFatalPlayback ErrorKind = "fatal_playback_error"
)

// TimeRange is a half-open buffered interval [Start, End) in seconds of
// media time.
type TimeRange struct {
	Start float64
	End   float64
}

// Listener receives engine events. Callbacks are invoked from the engine's
// own goroutine and must return quickly; block here and playback stalls.
type Listener interface {
	StateChanged(old, new State)
	QualityChanged(label string)
	Progress(position float64, buffered []TimeRange)
	PlaybackError(kind ErrorKind, message string, retryable bool)
}

// NopListener discards all events. Embed it to implement only part of
// Listener.
type NopListener struct{}

func (NopListener) StateChanged(old, new State)                {}
func (NopListener) QualityChanged(label string)                {}
func (NopListener) Progress(pos float64, buffered []TimeRange) {}
func (NopListener) PlaybackError(ErrorKind, string, bool)      {}

// Sink is where decoded segment payloads go (the media element, a muxer, a
// file). Released synchronously when playback stops.
type Sink interface {
	Write(payload []byte) error
	Release()
}
