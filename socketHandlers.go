package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"speech-commands/models"
	"speech-commands/speech"
	"speech-commands/utils"
	"speech-commands/wav"

	socketio "github.com/googollee/go-socket.io"
	"github.com/mdobak/go-xerrors"
)

const (
	eventModelInfo        = "modelInfo"
	eventPrediction       = "prediction"
	eventPredictionError  = "predictionError"
	eventTrainingProgress = "trainingProgress"
)

// emitter is the part of socketio.Conn the controller writes to.
type emitter interface {
	ID() string
	Emit(event string, args ...interface{})
}

type socketController struct {
	app    *application
	server *socketio.Server
}

func newSocketController(app *application) *socketController {
	return &socketController{app: app}
}

func (c *socketController) emitModelInfo(socket emitter) {
	info, err := c.app.service.Inference().ModelInfo()
	if err != nil {
		logger := utils.GetLogger()
		logger.Error("failed to read model info", slog.Any("error", xerrors.New(err)))
		socket.Emit(eventPredictionError, apiError{Message: err.Error()})
		return
	}
	socket.Emit(eventModelInfo, info)
}

// broadcastProgress forwards a training epoch to every connected client.
func (c *socketController) broadcastProgress(p models.EpochProgress) {
	if c.server == nil {
		return
	}
	c.server.BroadcastToNamespace("/", eventTrainingProgress, p)
}

// decodeRecording turns a newRecording payload into mono samples.
func decodeRecording(recordData string) (*wav.Audio, error) {
	if strings.TrimSpace(recordData) == "" {
		return nil, speech.NewError(speech.KindData, "decode recording", errors.New("no audio data received"))
	}

	var recData models.RecordData
	if err := json.Unmarshal([]byte(recordData), &recData); err != nil {
		return nil, speech.NewError(speech.KindData, "decode recording", err)
	}

	// Browsers send data URLs; keep only the payload.
	payload := recData.Audio
	if i := strings.Index(payload, ","); i >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, speech.NewError(speech.KindData, "decode recording", err)
	}

	audio, err := wav.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, speech.NewError(speech.KindData, "decode recording", err)
	}
	return audio, nil
}

func (c *socketController) handleNewRecording(socket emitter, recordData string) {
	logger := utils.GetLogger()
	ctx := context.Background()
	started := time.Now()

	audio, err := decodeRecording(recordData)
	if err != nil {
		logger.ErrorContext(ctx, "failed to decode recording",
			slog.String("socketID", socket.ID()),
			slog.Any("error", xerrors.New(err)),
		)
		socket.Emit(eventPredictionError, apiError{Message: err.Error()})
		return
	}

	logger.InfoContext(ctx, "received recording",
		slog.String("socketID", socket.ID()),
		slog.Int("sampleRate", audio.SampleRate),
		slog.Int("frames", len(audio.Samples)),
		slog.Float64("duration", audio.Duration()),
	)

	pred, err := c.app.service.Predict(ctx, audio.Samples, audio.SampleRate)
	if err != nil {
		logger.ErrorContext(ctx, "failed to classify recording",
			slog.String("socketID", socket.ID()),
			slog.Any("error", xerrors.New(err)),
		)
		socket.Emit(eventPredictionError, apiError{Message: err.Error()})
		return
	}

	entry := c.app.recordPrediction(ctx, pred, "socket", "", started)
	logger.InfoContext(ctx, "recording classified",
		slog.String("socketID", socket.ID()),
		slog.String("label", entry.Label),
		slog.Float64("confidence", entry.Confidence),
		slog.Float64("latencyMs", entry.LatencyMs),
	)
	socket.Emit(eventPrediction, entry)
}
