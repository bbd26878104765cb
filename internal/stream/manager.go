package stream

import (
	stderrors "errors"

	"github.com/pkg/errors"

	"github.com/openconsole/capstream/internal/util"
)

// Manager owns up to two stream workers, one per kind. A worker exists only
// for the kinds whose sink was supplied at construction. Legs run and fault
// independently; one leg's fatal error never stops the other.
type Manager struct {
	video *Worker
	audio *Worker

	videoTarget Sink
	audioTarget Sink
}

// NewManager creates a manager with a worker per non-nil sink.
func NewManager(videoTarget, audioTarget Sink) *Manager {
	m := &Manager{
		videoTarget: videoTarget,
		audioTarget: audioTarget,
	}
	if videoTarget != nil {
		m.video = NewWorker(KindVideo, videoTarget)
	}
	if audioTarget != nil {
		m.audio = NewWorker(KindAudio, audioTarget)
	}
	return m
}

// Begin starts every existing worker. A failure to start one leg does not
// prevent the other from starting; per-leg errors are joined in the result
// and remain individually inspectable via VideoFault/AudioFault.
func (m *Manager) Begin() error {
	var errs []error
	if m.video != nil {
		if err := m.video.Start(); err != nil {
			util.GetLogger().Error("Failed to start video leg", "error", err)
			errs = append(errs, errors.Wrap(err, "video leg"))
		}
	}
	if m.audio != nil {
		if err := m.audio.Start(); err != nil {
			util.GetLogger().Error("Failed to start audio leg", "error", err)
			errs = append(errs, errors.Wrap(err, "audio leg"))
		}
	}
	return stderrors.Join(errs...)
}

// Stop stops every existing worker. Idempotent and safe from any goroutine.
func (m *Manager) Stop() {
	if m.video != nil {
		m.video.Stop()
	}
	if m.audio != nil {
		m.audio.Stop()
	}
}

// VideoSource returns the video worker's bound source, or nil when the
// manager has no video leg.
func (m *Manager) VideoSource() Source {
	if m.video == nil {
		return nil
	}
	return m.video.Source()
}

// SetVideoSource binds a source to the video worker. Setting on a manager
// without a video leg is a silent no-op; there is nothing to drive.
func (m *Manager) SetVideoSource(src Source) error {
	if m.video == nil {
		return nil
	}
	return m.video.SetSource(src)
}

// AudioSource returns the audio worker's bound source, or nil when the
// manager has no audio leg.
func (m *Manager) AudioSource() Source {
	if m.audio == nil {
		return nil
	}
	return m.audio.Source()
}

// SetAudioSource binds a source to the audio worker. Silent no-op without an
// audio leg.
func (m *Manager) SetAudioSource(src Source) error {
	if m.audio == nil {
		return nil
	}
	return m.audio.SetSource(src)
}

// VideoTarget returns the video sink supplied at construction, nil if none.
func (m *Manager) VideoTarget() Sink { return m.videoTarget }

// AudioTarget returns the audio sink supplied at construction, nil if none.
func (m *Manager) AudioTarget() Sink { return m.audioTarget }

// VideoFault returns the error that stopped the video leg's last run, if any.
func (m *Manager) VideoFault() error {
	if m.video == nil {
		return nil
	}
	return m.video.Fault()
}

// AudioFault returns the error that stopped the audio leg's last run, if any.
func (m *Manager) AudioFault() error {
	if m.audio == nil {
		return nil
	}
	return m.audio.Fault()
}
