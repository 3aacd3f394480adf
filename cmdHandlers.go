package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"speech-commands/config"
	"speech-commands/dataset"
	"speech-commands/db"
	"speech-commands/speech"
	"speech-commands/utils"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/mdobak/go-xerrors"
)

const (
	startedMessage = "Speech Recognition System is started and listening for commands!"
	trainedMessage = "Model trained"

	maxUploadBytes = 32 << 20
)

type apiError struct {
	Message string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type downloadResponse struct {
	Message string `json:"message"`
	dataset.Result
}

type trainResponse struct {
	Message         string  `json:"message"`
	RunID           string  `json:"runId"`
	Epochs          int     `json:"epochs"`
	BestValAccuracy float64 `json:"bestValAccuracy"`
	StoppedEarly    bool    `json:"stoppedEarly"`
}

type predictResponse struct {
	Message       string             `json:"message"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Message: message})
}

// statusFor maps an error kind to an HTTP status for strict mode.
func statusFor(err error) int {
	switch speech.KindOf(err) {
	case speech.KindData:
		return http.StatusUnprocessableEntity
	case speech.KindConfig:
		return http.StatusConflict
	case speech.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure reports err to the client. With soft failures every error is a
// 200 carrying the error text, which is what existing clients expect.
func writeFailure(ctx context.Context, w http.ResponseWriter, soft bool, op string, err error) {
	logger := utils.GetLogger()
	logger.ErrorContext(ctx, op+" failed", slog.Any("error", xerrors.New(err)))

	status := http.StatusOK
	if !soft {
		status = statusFor(err)
	}
	writeJSONError(w, status, err.Error())
}

// allowCORS sets the CORS headers and answers preflight requests. It returns
// false when the request has been fully handled.
func allowCORS(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", strings.Join(append(methods, http.MethodOptions), ", "))
	w.Header().Set("Access-Control-Allow-Credentials", "true")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return false
	}
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func queryLimit(r *http.Request, fallback int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func newRootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
		if !allowCORS(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: startedMessage})
	}
}

func newHelloHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowCORS(w, r, http.MethodGet) {
			return
		}
		name, ok := r.URL.Query()["name"]
		if !ok {
			writeJSONError(w, http.StatusUnprocessableEntity, "name is required")
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: "Hello " + name[0] + ", from the AI server!"})
	}
}

func newDownloadHandler(app *application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowCORS(w, r, http.MethodGet) {
			return
		}
		ctx := r.Context()

		query := r.URL.Query()
		root := strings.TrimSpace(query.Get("root"))
		table := strings.TrimSpace(query.Get("table"))
		if table == "" {
			table = db.DefaultCatalogTable
		}
		force, _ := strconv.ParseBool(query.Get("force"))

		res, err := app.downloader.Download(ctx, root, table, force)
		if err != nil {
			writeFailure(ctx, w, app.cfg.Server.SoftFailures, "download", err)
			return
		}
		writeJSON(w, http.StatusOK, downloadResponse{Message: "downloaded", Result: res})
	}
}

func newTrainHandler(app *application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowCORS(w, r, http.MethodGet, http.MethodPost) {
			return
		}
		ctx := r.Context()

		raw := r.URL.Query().Get("from_scratch")
		fromScratch, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSONError(w, http.StatusUnprocessableEntity, "from_scratch must be a boolean")
			return
		}

		res, err := app.service.Train(ctx, fromScratch)
		if err != nil {
			writeFailure(ctx, w, app.cfg.Server.SoftFailures, "train model", err)
			return
		}

		logger := utils.GetLogger()
		logger.InfoContext(ctx, "model trained",
			slog.String("runID", res.RunID),
			slog.Int("epochs", res.Epochs),
			slog.Float64("bestValAccuracy", res.BestValAccuracy),
		)
		writeJSON(w, http.StatusOK, trainResponse{
			Message:         trainedMessage,
			RunID:           res.RunID,
			Epochs:          res.Epochs,
			BestValAccuracy: res.BestValAccuracy,
			StoppedEarly:    res.StoppedEarly,
		})
	}
}

func newUploadHandler(app *application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowCORS(w, r, http.MethodPost) {
			return
		}
		ctx := r.Context()

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		file, header, err := r.FormFile("audio")
		if err != nil {
			err = speech.NewError(speech.KindData, "upload", err)
			writeFailure(ctx, w, app.cfg.Server.SoftFailures, "upload", err)
			return
		}
		defer file.Close()

		if err := app.service.SaveUpload(file); err != nil {
			writeFailure(ctx, w, app.cfg.Server.SoftFailures, "upload", err)
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: header.Filename})
	}
}

func newPredictHandler(app *application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowCORS(w, r, http.MethodGet) {
			return
		}
		ctx := r.Context()
		started := time.Now()

		pred, err := app.service.PredictUpload(ctx)
		if err != nil {
			writeFailure(ctx, w, app.cfg.Server.SoftFailures, "predict", err)
			return
		}
		app.recordPrediction(ctx, pred, "upload", app.cfg.Paths.Upload, started)

		writeJSON(w, http.StatusOK, predictResponse{
			Message:       pred.Label,
			Confidence:    pred.Confidence,
			Probabilities: pred.Probabilities,
		})
	}
}

func newModelInfoHandler(app *application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowCORS(w, r, http.MethodGet) {
			return
		}
		info, err := app.service.Inference().ModelInfo()
		if err != nil {
			writeFailure(r.Context(), w, app.cfg.Server.SoftFailures, "model info", err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func newRunsHandler(app *application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowCORS(w, r, http.MethodGet) {
			return
		}
		runs, err := app.runs.ListRuns(r.Context(), queryLimit(r, 50))
		if err != nil {
			logger := utils.GetLogger()
			logger.ErrorContext(r.Context(), "failed to list runs", slog.Any("error", xerrors.New(err)))
			writeJSONError(w, http.StatusInternalServerError, "failed to load training runs")
			return
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func newPredictionsHandler(app *application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowCORS(w, r, http.MethodGet) {
			return
		}
		list, err := app.predictions.List(queryLimit(r, 0))
		if err != nil {
			logger := utils.GetLogger()
			logger.ErrorContext(r.Context(), "failed to load predictions", slog.Any("error", xerrors.New(err)))
			writeJSONError(w, http.StatusInternalServerError, "failed to load predictions")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// routes registers every HTTP endpoint. socket may be nil in tests.
func routes(app *application, socket http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	if socket != nil {
		mux.Handle("/socket.io/", socket)
	}
	mux.HandleFunc("/", newRootHandler())
	mux.HandleFunc("/hello/", newHelloHandler())
	mux.HandleFunc("/download/", newDownloadHandler(app))
	mux.HandleFunc("/train_model/", newTrainHandler(app))
	mux.HandleFunc("/upload_file/", newUploadHandler(app))
	mux.HandleFunc("/predict/", newPredictHandler(app))
	mux.HandleFunc("/api/model", newModelInfoHandler(app))
	mux.HandleFunc("/api/runs", newRunsHandler(app))
	mux.HandleFunc("/api/predictions", newPredictionsHandler(app))
	return mux
}

func newSocketServer(controller *socketController) *socketio.Server {
	var allowOriginFunc = func(r *http.Request) bool {
		return true
	}

	server := socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: allowOriginFunc,
			},
			&polling.Transport{
				CheckOrigin: allowOriginFunc,
			},
		},
	})
	controller.server = server

	server.OnConnect("/", func(socket socketio.Conn) error {
		socket.SetContext("")
		log.Printf("CONNECTED: %s, remote addr: %s\n", socket.ID(), socket.RemoteAddr())
		controller.emitModelInfo(socket)
		return nil
	})

	server.OnEvent("/", "requestModelInfo", func(socket socketio.Conn) {
		controller.emitModelInfo(socket)
	})

	server.OnEvent("/", "newRecording", func(socket socketio.Conn, msg string) {
		log.Printf("newRecording received from %s, data length: %d\n", socket.ID(), len(msg))
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("panic in handleNewRecording for socket %s: %v\n", socket.ID(), r)
					socket.Emit("predictionError", apiError{Message: "internal server error during processing"})
				}
			}()
			controller.handleNewRecording(socket, msg)
		}()
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		log.Println("meet error:", e)
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Printf("Socket disconnected - ID: %s, Reason: %s\n", s.ID(), reason)
	})

	return server
}

func serve(cfg config.Config) {
	ctx := context.Background()
	logger := utils.GetLogger()

	app, err := newApplication(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer func() {
		if err := app.close(); err != nil {
			logger.ErrorContext(ctx, "failed to close application", slog.Any("error", xerrors.New(err)))
		}
	}()

	controller := newSocketController(app)
	server := newSocketServer(controller)
	app.progress = controller.broadcastProgress

	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("socketio listen error: %s\n", err)
		}
	}()
	defer server.Close()

	serveHTTPS := strings.ToLower(cfg.Server.Protocol) == "https"
	serveHTTP(cfg.Server, serveHTTPS, routes(app, server))
}

func serveHTTP(cfg config.Server, serveHTTPS bool, handler http.Handler) {
	if serveHTTPS {
		httpsAddr := ":" + cfg.Port
		httpsServer := &http.Server{
			Addr: httpsAddr,
			TLSConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			Handler: handler,
		}

		if cfg.CertKey == "" || cfg.CertFile == "" {
			log.Fatal("Missing cert")
		}

		log.Printf("Starting HTTPS server on %s\n", httpsAddr)
		if err := httpsServer.ListenAndServeTLS(cfg.CertFile, cfg.CertKey); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTPS server ListenAndServeTLS: %v", err)
		}
		return
	}

	log.Printf("Starting HTTP server on port %v", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		log.Fatalf("HTTP server ListenAndServe: %v", err)
	}
}
