package gemini

import (
	"strings"

	"github.com/vango-go/vai-live/pkg/core/live"
)

// Client frames of the BidiGenerateContent protocol.

type setupMessage struct {
	Setup setup `json:"setup"`
}

type setup struct {
	Model                    string            `json:"model"`
	GenerationConfig         generationConfig  `json:"generationConfig"`
	SystemInstruction        *wireContent      `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *transcriptConfig `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *transcriptConfig `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text string `json:"text"`
}

type transcriptConfig struct{}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Audio *wireBlob `json:"audio,omitempty"`
}

type wireBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

func modelResource(model string) string {
	model = strings.TrimSpace(model)
	if strings.HasPrefix(model, "models/") || strings.HasPrefix(model, "tunedModels/") {
		return model
	}
	return "models/" + model
}

func buildSetup(cfg live.StreamConfig) setupMessage {
	s := setup{
		Model:            modelResource(cfg.Model),
		GenerationConfig: generationConfig{ResponseModalities: []string{"AUDIO"}},
	}
	if v := strings.TrimSpace(cfg.Voice); v != "" {
		s.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: v}},
		}
	}
	if sys := strings.TrimSpace(cfg.SystemInstruction); sys != "" {
		s.SystemInstruction = &wireContent{Parts: []wirePart{{Text: sys}}}
	}
	if cfg.InputTranscription {
		s.InputAudioTranscription = &transcriptConfig{}
	}
	if cfg.OutputTranscription {
		s.OutputAudioTranscription = &transcriptConfig{}
	}
	return setupMessage{Setup: s}
}
