package session

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"

	"pkt.systems/pslog"
)

// SentryPayloadFile is written by the preamble into the session temp dir.
const SentryPayloadFile = "sentry_payload.json"

// SentrySummary is the part of a sentry payload worth showing to a user.
type SentrySummary struct {
	EventID        string
	Platform       string
	ExceptionType  string
	ExceptionValue string
	Frames         int
}

// Summarize extracts a SentrySummary from a payload. Empty or invalid
// payloads yield ok=false.
func Summarize(payload []byte) (SentrySummary, bool) {
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return SentrySummary{}, false
	}
	res := gjson.GetManyBytes(payload,
		"event_id",
		"platform",
		"exception.values.0.type",
		"exception.values.0.value",
		"exception.values.0.stacktrace.frames.#",
	)
	return SentrySummary{
		EventID:        res[0].String(),
		Platform:       res[1].String(),
		ExceptionType:  res[2].String(),
		ExceptionValue: res[3].String(),
		Frames:         int(res[4].Int()),
	}, true
}

// readSentryPayload loads the side-channel payload. A missing file is not
// an error; unreadable or malformed files are logged and treated as empty.
func readSentryPayload(dir string, log pslog.Logger) []byte {
	if dir == "" {
		return nil
	}
	path := filepath.Join(dir, SentryPayloadFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) && log != nil {
			log.Warn("sentry payload unreadable", "path", path, "err", err)
		}
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	if !gjson.ValidBytes(data) {
		if log != nil {
			log.Warn("sentry payload invalid", "path", path, "bytes", len(data))
		}
		return nil
	}
	if log != nil {
		log.Debug("sentry payload read", "path", path, "bytes", len(data))
	}
	return data
}
