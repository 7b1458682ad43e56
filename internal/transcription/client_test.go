package transcription

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIKey:        "test-key",
		BaseURL:       baseURL,
		Model:         "paraformer-v1",
		LanguageHints: []string{"zh", "en"},
		SpeakerCount:  2,
		PollInterval:  10 * time.Millisecond,
		PollTimeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("client init: %v", err)
	}
	return c
}

func taskBody(status, extra string) string {
	if extra != "" {
		extra = "," + extra
	}
	return fmt.Sprintf(`{"request_id":"r1","output":{"task_id":"t1","task_status":"%s"%s}}`, status, extra)
}

func TestTranscribePollsUntilSucceeded(t *testing.T) {
	var polls int64
	mux := http.NewServeMux()
	var srvURL string

	mux.HandleFunc("/services/audio/asr/transcription", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-DashScope-Async") != "enable" {
			t.Error("submission missing async header")
		}
		if !strings.Contains(readBody(r), `"diarization_enabled":true`) {
			t.Error("submission missing diarization flag")
		}
		fmt.Fprint(w, taskBody(StatusPending, ""))
	})
	mux.HandleFunc("/tasks/t1", func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt64(&polls, 1) {
		case 1, 2:
			fmt.Fprint(w, taskBody(StatusRunning, ""))
		default:
			fmt.Fprint(w, taskBody(StatusSucceeded,
				fmt.Sprintf(`"results":[{"transcription_url":"%s/result.json"}]`, srvURL)))
		}
	})
	mux.HandleFunc("/result.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"transcripts":[{"sentences":[{"speaker_id":0,"text":"您好"},{"speaker_id":1,"text":"牙疼"}]}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	c := newTestClient(t, srv.URL)
	payload, err := c.Transcribe(context.Background(), "https://signed.example/audio.m4a")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if n := atomic.LoadInt64(&polls); n != 3 {
		t.Errorf("polled %d times, want exactly 3", n)
	}
	if len(payload.Transcripts) != 1 || len(payload.Transcripts[0].Sentences) != 2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Transcripts[0].Sentences[1].SpeakerID != 1 {
		t.Errorf("speaker id not preserved: %+v", payload.Transcripts[0].Sentences[1])
	}
}

func TestTranscribeInlineResultWithoutSecondaryURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/services/audio/asr/transcription", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, taskBody(StatusPending, ""))
	})
	mux.HandleFunc("/tasks/t1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, taskBody(StatusSucceeded,
			`"transcripts":[{"sentences":[{"speaker_id":0,"text":"您好"}]}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	payload, err := c.Transcribe(context.Background(), "https://signed.example/audio.mp3")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if len(payload.Transcripts) != 1 || payload.Transcripts[0].Sentences[0].Text != "您好" {
		t.Fatalf("unexpected inline payload: %+v", payload)
	}
}

func TestTranscribeSurfacesJobFailureVerbatim(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/services/audio/asr/transcription", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, taskBody(StatusPending, ""))
	})
	mux.HandleFunc("/tasks/t1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, taskBody(StatusFailed, `"message":"audio format not supported"`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Transcribe(context.Background(), "https://signed.example/audio.xyz")
	if err == nil {
		t.Fatal("expected failure for FAILED job")
	}
	if !strings.Contains(err.Error(), "audio format not supported") {
		t.Errorf("service message not surfaced: %v", err)
	}
}

func TestTranscribeRejectedSubmission(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"InvalidApiKey","message":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.Submit("https://signed.example/audio.wav"); err == nil {
		t.Fatal("expected submission error")
	}
}

func TestTranscribeWaitIsCancellable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/services/audio/asr/transcription", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, taskBody(StatusPending, ""))
	})
	mux.HandleFunc("/tasks/t1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, taskBody(StatusRunning, ""))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := c.Transcribe(ctx, "https://signed.example/audio.m4a")
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transcribe did not stop after cancellation")
	}
}

func TestTranscribeWaitHonorsPollTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/services/audio/asr/transcription", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, taskBody(StatusPending, ""))
	})
	mux.HandleFunc("/tasks/t1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, taskBody(StatusRunning, ""))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewClient(Config{
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		PollInterval: 10 * time.Millisecond,
		PollTimeout:  80 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("client init: %v", err)
	}
	if _, err := c.Transcribe(context.Background(), "https://signed.example/a.wav"); err == nil {
		t.Fatal("expected deadline error for never-completing job")
	}
}

func readBody(r *http.Request) string {
	b, _ := io.ReadAll(r.Body)
	return string(b)
}
