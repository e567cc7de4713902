package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/vango-go/vai-live/pkg/core/audio"
	"github.com/vango-go/vai-live/pkg/core/live"
)

func TestFromGenAI(t *testing.T) {
	pcm := []byte{0x00, 0x40, 0x00, 0xc0}
	msg := fromGenAI(&genai.LiveServerMessage{
		GoAway: &genai.LiveServerGoAway{TimeLeft: 5 * time.Second},
		ServerContent: &genai.LiveServerContent{
			InputTranscription:  &genai.Transcription{Text: "hello"},
			OutputTranscription: &genai.Transcription{Text: "hi"},
			ModelTurn: &genai.Content{Role: "model", Parts: []*genai.Part{
				{Text: "note"},
				nil,
				{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: pcm}},
			}},
			Interrupted:  true,
			TurnComplete: true,
		},
	})

	if msg.SetupComplete != nil {
		t.Fatalf("unexpected setupComplete")
	}
	if msg.GoAway == nil || msg.GoAway.TimeLeft != "5s" {
		t.Fatalf("goAway=%+v", msg.GoAway)
	}
	sc := msg.ServerContent
	if sc.InputTranscription.Text != "hello" || sc.OutputTranscription.Text != "hi" {
		t.Fatalf("transcriptions=%+v %+v", sc.InputTranscription, sc.OutputTranscription)
	}
	if !sc.Interrupted || !sc.TurnComplete {
		t.Fatalf("flags interrupted=%v turnComplete=%v", sc.Interrupted, sc.TurnComplete)
	}
	if len(sc.ModelTurn.Parts) != 2 {
		t.Fatalf("parts=%d, want 2", len(sc.ModelTurn.Parts))
	}
	inline := sc.ModelTurn.Parts[1].InlineData
	if inline == nil || !inline.IsAudio() {
		t.Fatalf("inline=%+v", inline)
	}
	decoded, err := audio.BytesFromBase64(inline.Data)
	if err != nil || string(decoded) != string(pcm) {
		t.Fatalf("decoded=%v err=%v", decoded, err)
	}
}

func TestFromGenAI_SetupComplete(t *testing.T) {
	msg := fromGenAI(&genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}})
	if msg.SetupComplete == nil || msg.ServerContent != nil {
		t.Fatalf("msg=%+v", msg)
	}
	if got := fromGenAI(nil); got == nil || got.ServerContent != nil {
		t.Fatalf("fromGenAI(nil)=%+v", got)
	}
}

func TestLiveConnectConfig(t *testing.T) {
	c := liveConnectConfig(testStreamConfig())
	if len(c.ResponseModalities) != 1 || c.ResponseModalities[0] != genai.ModalityAudio {
		t.Fatalf("modalities=%v", c.ResponseModalities)
	}
	if c.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Zephyr" {
		t.Fatalf("voice=%q", c.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	}
	if c.SystemInstruction == nil || c.SystemInstruction.Parts[0].Text != "be brief" {
		t.Fatalf("system instruction=%+v", c.SystemInstruction)
	}
	if c.InputAudioTranscription == nil || c.OutputAudioTranscription == nil {
		t.Fatalf("expected transcription configs")
	}

	bare := liveConnectConfig(live.StreamConfig{Model: "m"})
	if bare.SpeechConfig != nil || bare.SystemInstruction != nil || bare.InputAudioTranscription != nil {
		t.Fatalf("expected optional fields unset, got %+v", bare)
	}
}

func TestGenAITransport_MissingKey(t *testing.T) {
	tr := NewGenAITransport(func() string { return "" })
	_, err := tr.Open(context.Background(), testStreamConfig(), live.StreamCallbacks{})
	if !errors.Is(err, live.ErrInvalidCredential) {
		t.Fatalf("err=%v, want ErrInvalidCredential", err)
	}
}

func TestGenAITransport_StreamsAgainstLocalServer(t *testing.T) {
	srv := newLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "GenerativeService.BidiGenerateContent") || !strings.Contains(r.URL.Path, ".v1alpha.") {
			t.Errorf("path=%q", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "genai-key" {
			t.Errorf("api key header=%q", got)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read setup: %v", err)
			return
		}
		var setup map[string]any
		if err := sonic.Unmarshal(data, &setup); err != nil || setup["setup"] == nil {
			t.Errorf("setup=%s err=%v", data, err)
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`))

		if _, data, err = conn.ReadMessage(); err != nil {
			t.Errorf("read realtime input: %v", err)
			return
		}
		if !strings.Contains(string(data), "audio/pcm;rate=16000") {
			t.Errorf("realtime input=%s", data)
		}

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AEAAwA=="}}]}}}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
		_, _, _ = conn.ReadMessage()
	})

	ev := newStreamEvents()
	tr := NewGenAITransport(StaticKey("genai-key"), WithBaseURL(wsURL(srv)), WithAPIVersion("v1alpha"))
	stream, err := tr.Open(context.Background(), testStreamConfig(), ev.callbacks())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	recv(t, ev.open, "open")
	if err := stream.Send(context.Background(), live.RealtimeInput{Media: audio.Encode([]float32{0.25}, 16000)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg := recv(t, ev.messages, "server content")
	if got := msg.ServerContent.ModelTurn.Parts[0].InlineData.Data; got != "AEAAwA==" {
		t.Fatalf("inline data=%q, want AEAAwA==", got)
	}
	if reason := recv(t, ev.closed, "close"); reason != "done" {
		t.Fatalf("close reason=%q, want done", reason)
	}
}
