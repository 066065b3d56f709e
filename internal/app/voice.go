package app

import (
	"fmt"
	"log"
	"strings"

	"github.com/mtorrado/hotline/internal/config"
	"github.com/mtorrado/hotline/internal/voice"
)

type voiceSetup struct {
	recognizer  voice.Recognizer
	synthesizer voice.Synthesizer
	provider    string
}

// resolveVoiceProviders picks the speech engines for the configured mode.
// "auto" uses the live engines when both API keys are present and falls back
// to the keyless mock otherwise; "live" fails hard on missing keys.
func resolveVoiceProviders(cfg config.Config) (voiceSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if mode == "" {
		mode = "auto"
	}

	haveKeys := strings.TrimSpace(cfg.DeepgramAPIKey) != "" && strings.TrimSpace(cfg.MurfAPIKey) != ""

	useLive := func() voiceSetup {
		log.Printf("voice provider: live (deepgram + murf)")
		return voiceSetup{
			recognizer: voice.NewDeepgramRecognizer(voice.DeepgramConfig{
				APIKey:     cfg.DeepgramAPIKey,
				WSBaseURL:  cfg.DeepgramWSBaseURL,
				Model:      cfg.DeepgramModel,
				SampleRate: cfg.InputSampleRate,
			}),
			synthesizer: voice.NewMurfSynthesizer(voice.MurfConfig{
				APIKey:     cfg.MurfAPIKey,
				WSBaseURL:  cfg.MurfWSBaseURL,
				VoiceID:    cfg.MurfVoiceID,
				SampleRate: cfg.TTSSampleRate,
			}),
			provider: "live",
		}
	}

	useMock := func() voiceSetup {
		log.Printf("voice provider: mock")
		p := voice.NewMockProvider()
		return voiceSetup{recognizer: p, synthesizer: p, provider: "mock"}
	}

	switch mode {
	case "auto":
		if haveKeys {
			return useLive(), nil
		}
		return useMock(), nil
	case "live":
		if !haveKeys {
			return voiceSetup{}, fmt.Errorf("VOICE_PROVIDER=live requires DEEPGRAM_API_KEY and MURF_API_KEY")
		}
		return useLive(), nil
	case "mock":
		return useMock(), nil
	default:
		return voiceSetup{}, fmt.Errorf("unknown VOICE_PROVIDER %q (want auto, live or mock)", cfg.VoiceProvider)
	}
}
