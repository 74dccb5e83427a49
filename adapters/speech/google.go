package speech

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"

	"github.com/mi6Fsoc/reroom-prototype/utils/log"
)

type Config struct {
	LanguageCode string
	SampleRate   int32
}

type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
}

// GoogleSpeech transcribes LINEAR16 voice messages with Cloud Speech-to-Text.
type GoogleSpeech struct {
	client recognizer
	cfg    Config
}

func NewGoogleSpeech(ctx context.Context, cfg Config) (*GoogleSpeech, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating Google speech client: %w", err)
	}
	return &GoogleSpeech{client: client, cfg: cfg}, nil
}

// Transcribe implements domain.Transcriber. Results are joined with a space;
// silence yields an empty string.
func (g *GoogleSpeech) Transcribe(ctx context.Context, audio []byte) (string, error) {
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            g.cfg.SampleRate,
			LanguageCode:               g.cfg.LanguageCode,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", fmt.Errorf("recognizing speech: %w", err)
	}

	parts := make([]string, 0, len(resp.GetResults()))
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
	}

	text := strings.Join(parts, " ")
	log.WithCtx(ctx).Debug("Transcribed voice message", zap.Int("audio_bytes", len(audio)), zap.Int("chars", len(text)))
	return text, nil
}
