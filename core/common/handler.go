package common

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/attachd/attachd/core/logging"
	"go.uber.org/zap"
)

/*ReqRespHandlerf - a type for the default handler signature */
type ReqRespHandlerf func(w http.ResponseWriter, r *http.Request)

/*JSONResponderF - a handler that takes a standard request and responds with a json response */
type JSONResponderF func(ctx context.Context, r *http.Request) (interface{}, error)

/*Respond - respond either data or error as a response */
func Respond(w http.ResponseWriter, data interface{}, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if err != nil {
		body := make(map[string]interface{}, 2)
		body["error"] = err.Error()
		status := http.StatusBadRequest
		if cerr, ok := err.(*Error); ok {
			body["code"] = cerr.Code
			if cerr.StatusCode != 0 {
				status = cerr.StatusCode
			} else if cerr.Code == ErrCodeNotFound {
				status = http.StatusNotFound
			}
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body) //nolint:errcheck // nothing to do on encode failure
		return
	}
	if data != nil {
		json.NewEncoder(w).Encode(data) //nolint:errcheck // nothing to do on encode failure
	}
}

/*ToJSONResponse - wraps a JSONResponderF into a standard http handler */
func ToJSONResponse(handler JSONResponderF) ReqRespHandlerf {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		data, err := handler(ctx, r)
		Respond(w, data, err)
	}
}

// TryParseForm parses the request form, ignoring malformed input.
func TryParseForm(r *http.Request) {
	if r.Form == nil {
		_ = r.ParseForm()
	}
}

// HandleShutdown shuts the server down gracefully on SIGINT/SIGTERM.
func HandleShutdown(server *http.Server) {
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logging.Logger.Error("server shutdown", zap.Error(err))
		}
	}()
}
