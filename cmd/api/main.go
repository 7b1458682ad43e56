package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dental-insights-go/internal/config"
	"dental-insights-go/internal/extractor"
	"dental-insights-go/internal/logger"
	"dental-insights-go/internal/metrics"
	"dental-insights-go/internal/pipeline"
	"dental-insights-go/internal/repository"
	"dental-insights-go/internal/storage"
	"dental-insights-go/internal/transcription"
	"dental-insights-go/internal/types"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "dental-insights-go").Info("starting service")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	store, err := storage.New(storage.Config{
		Endpoint:        cfg.OSSEndpoint,
		AccessKeyID:     cfg.OSSAccessKeyID,
		AccessKeySecret: cfg.OSSAccessKeySecret,
		Bucket:          cfg.OSSBucket,
		SignedURLTTL:    cfg.SignedURLTTL,
	})
	if err != nil {
		log.WithError(err).Fatal("storage init failed")
	}

	asr, err := transcription.NewClient(transcription.Config{
		APIKey:        cfg.DashScopeAPIKey,
		BaseURL:       cfg.DashScopeBaseURL,
		Model:         cfg.ASRModel,
		LanguageHints: cfg.LanguageHints,
		SpeakerCount:  cfg.SpeakerCount,
		PollInterval:  cfg.PollInterval,
		PollTimeout:   cfg.PollTimeout,
	})
	if err != nil {
		log.WithError(err).Fatal("transcription client init failed")
	}

	llm, err := extractor.New(extractor.Config{
		APIKey:  cfg.DashScopeAPIKey,
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.LLMModel,
	})
	if err != nil {
		log.WithError(err).Fatal("extractor init failed")
	}

	repo, err := repository.New(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("record store init failed")
	}

	pipe := pipeline.New(store, asr, llm, cfg.MinDialogueChars)

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})

	mux.Handle("/metrics", promhttp.Handler())

	// analyze one consultation recording and persist the result
	mux.HandleFunc("/analyze", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "analyze")
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseMultipartForm(64 << 20); err != nil {
			reqLog.WithField("error", err.Error()).Warn("bad multipart form")
			http.Error(w, "bad multipart form", http.StatusBadRequest)
			return
		}
		file, hdr, err := r.FormFile("audio")
		if err != nil {
			reqLog.Warn("missing audio file")
			http.Error(w, "missing audio file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		audio, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "failed to read audio", http.StatusBadRequest)
			return
		}
		reqLog = reqLog.WithField("filename", hdr.Filename)
		reqLog.WithField("bytes", len(audio)).Info("analyze request received")

		res, err := pipe.Analyze(r.Context(), audio, hdr.Filename)
		if err != nil {
			reqLog.WithField("error", err.Error()).Warn("analysis failed")
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		rec := types.ConsultationRecord{
			Time:               time.Now().Format("2006-01-02 15:04"),
			Consultant:         r.FormValue("consultant"),
			Patient:            r.FormValue("patient"),
			Deal:               r.FormValue("deal"),
			ConsultationReport: res.Report,
			Dialogue:           res.Dialogue,
		}
		if err := repo.Append(rec); err != nil {
			reqLog.WithField("error", err.Error()).Error("failed to persist record")
			http.Error(w, "analysis succeeded but record save failed", http.StatusInternalServerError)
			return
		}
		metrics.Default.RecordsSaved.Inc()

		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rec); err != nil {
			reqLog.WithField("error", err.Error()).Error("failed to write response")
		}
	})

	// persisted records, newest first
	mux.HandleFunc("/records", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "records")
		recs, err := repo.List()
		if err != nil {
			reqLog.WithField("error", err.Error()).Error("record list failed")
			http.Error(w, "record list failed", http.StatusInternalServerError)
			return
		}
		type labeled struct {
			Label string `json:"label"`
			Rec   any    `json:"record"`
		}
		out := make([]labeled, 0, len(recs))
		for _, rec := range recs {
			out = append(out, labeled{
				Label: fmt.Sprintf("%s | %s vs %s | %d分", rec.Time, rec.Consultant, rec.Patient, rec.SalesScore),
				Rec:   rec,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(out)
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // one analysis can outlive the transcription job
		IdleTimeout:  120 * time.Second,
	}
	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server terminated")
	}
}

// statusFor maps the pipeline failure taxonomy to HTTP statuses:
// input-quality failures are the caller's to fix, the rest are
// upstream faults.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrLowQualityTranscript):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrStorageUnavailable),
		errors.Is(err, pipeline.ErrTranscriptionFailed),
		errors.Is(err, pipeline.ErrExtractionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
