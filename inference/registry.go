package inference

import (
	"sync"

	"github.com/sirupsen/logrus"

	"videoindex/config"
)

// Registry owns the lifecycle of every inference provider. Providers are
// built lazily on first use behind sync.Once guards, so two jobs that
// trigger loading at the same time share one instance instead of racing.
// The registry is passed into each pipeline stage; nothing reads process
// globals.
type Registry struct {
	cfg *config.Config
	log *logrus.Logger

	chatOnce sync.Once
	chat     ChatClient

	embedOnce sync.Once
	embedder  VisualEmbedder

	captionOnce sync.Once
	captioner   Captioner

	textOnce sync.Once
	text     TextEncoder

	faceOnce sync.Once
	faces    FaceDetector

	speechOnce sync.Once
	speech     SpeechRecognizer
}

func NewRegistry(cfg *config.Config, log *logrus.Logger) *Registry {
	return &Registry{cfg: cfg, log: log}
}

func (r *Registry) Chat() ChatClient {
	r.chatOnce.Do(func() {
		if !r.cfg.HasValidAPI() {
			r.log.Warn("chat model unavailable: API not configured, using mock")
			r.chat = &MockChat{}
			return
		}
		r.chat = newOpenAIChat(r.cfg)
	})
	return r.chat
}

func (r *Registry) VisualEmbedder() VisualEmbedder {
	r.embedOnce.Do(func() {
		switch r.cfg.EmbedderProvider {
		case "mock":
			r.embedder = &MockVisualEmbedder{Dimension: r.cfg.VisualDim}
		default:
			r.embedder = newScriptVisualEmbedder(r.cfg.PythonPath, r.cfg.VisualDim)
		}
		r.log.WithField("provider", r.cfg.EmbedderProvider).Info("visual embedder loaded")
	})
	return r.embedder
}

func (r *Registry) Captioner() Captioner {
	r.captionOnce.Do(func() {
		if r.cfg.CaptionerProvider == "mock" || !r.cfg.HasValidAPI() {
			if r.cfg.CaptionerProvider != "mock" {
				r.log.Warn("captioner unavailable: API not configured, using mock")
			}
			r.captioner = &MockCaptioner{}
			return
		}
		r.captioner = newOpenAICaptioner(r.cfg)
		r.log.WithField("model", r.cfg.CaptionModel).Info("captioner loaded")
	})
	return r.captioner
}

func (r *Registry) TextEncoder() TextEncoder {
	r.textOnce.Do(func() {
		if !r.cfg.HasValidAPI() {
			r.log.Warn("text encoder unavailable: API not configured, using mock")
			r.text = &MockTextEncoder{Dimension: r.cfg.TextDim}
			return
		}
		r.text = newOpenAITextEncoder(r.cfg)
	})
	return r.text
}

func (r *Registry) FaceDetector() FaceDetector {
	r.faceOnce.Do(func() {
		switch r.cfg.DetectorProvider {
		case "mock":
			r.faces = &MockFaceDetector{}
		default:
			r.faces = newScriptFaceDetector(r.cfg.PythonPath)
		}
		r.log.WithField("provider", r.cfg.DetectorProvider).Info("face detector loaded")
	})
	return r.faces
}

func (r *Registry) Speech() SpeechRecognizer {
	r.speechOnce.Do(func() {
		switch r.cfg.SpeechProvider {
		case "mock":
			r.speech = &MockSpeech{}
		case "local":
			r.speech = newLocalWhisper(r.cfg.PythonPath)
		default:
			if !r.cfg.HasValidAPI() {
				r.log.Warn("speech API not configured, falling back to local whisper")
				r.speech = newLocalWhisper(r.cfg.PythonPath)
				return
			}
			r.speech = newWhisperAPI(r.cfg)
		}
		r.log.WithField("provider", r.cfg.SpeechProvider).Info("speech recognizer loaded")
	})
	return r.speech
}

// Status reports which providers are configured, for the health endpoint.
func (r *Registry) Status() map[string]any {
	return map[string]any{
		"api_configured":     r.cfg.HasValidAPI(),
		"speech_provider":    r.cfg.SpeechProvider,
		"embedder_provider":  r.cfg.EmbedderProvider,
		"captioner_provider": r.cfg.CaptionerProvider,
		"detector_provider":  r.cfg.DetectorProvider,
	}
}
