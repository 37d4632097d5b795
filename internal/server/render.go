package server

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/pkg/json"
)

func (s *Server) render(w http.ResponseWriter, log *zap.Logger, resp *gateway.Response, err error) {
	switch {
	case err != nil:
		s.renderError(w, log, err)
	case resp == nil:
		s.renderError(w, log, gateway.NewServiceUnavailableError("Service didn't return any response"))
	case resp.IsStream():
		s.renderStream(w, log, resp)
	default:
		s.renderData(w, log, resp)
	}
}

// renderError writes the domain error body. Non-domain errors arrive masked
// as InternalError with the cause tucked into error_details; in debug mode
// the cause surfaces as the message too.
func (s *Server) renderError(w http.ResponseWriter, log *zap.Logger, err error) {
	apiErr := gateway.FromError(err)
	if s.cfg.Debug {
		if _, domain := gateway.AsAPIError(err); !domain {
			apiErr.Message = err.Error()
		}
	}

	log.Debug("request failed",
		zap.String("error_name", apiErr.Name),
		zap.String("error_code", apiErr.Code),
		zap.Error(err),
	)
	w.Header().Set("X-Error-Code", apiErr.Code)
	s.writeJSON(w, log, apiErr.Status, apiErr.ToMap())
}

func (s *Server) renderData(w http.ResponseWriter, log *zap.Logger, resp *gateway.Response) {
	for name, value := range resp.ExtraHeaders {
		w.Header().Set(name, value)
	}
	s.writeJSON(w, log, responseStatus(resp), resp.Data)
}

// renderStream copies the chunk sequence through, flushing after every
// chunk. After a client-side write failure the channel is still drained so
// the producing goroutine can finish.
func (s *Server) renderStream(w http.ResponseWriter, log *zap.Logger, resp *gateway.Response) {
	for name, value := range resp.ExtraHeaders {
		w.Header().Set(name, value)
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(responseStatus(resp))

	flusher, _ := w.(http.Flusher)
	var writeErr error
	for chunk := range resp.Chunks {
		if writeErr != nil {
			continue
		}
		if _, writeErr = w.Write(chunk); writeErr != nil {
			log.Warn("client dropped the stream", zap.Error(writeErr))
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, log *zap.Logger, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		log.Error("can not encode response body", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `{"error_name":"InternalError","error_code":"000","message":null}`)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		log.Warn("can not write response", zap.Error(err))
	}
}

// writeIndex dumps body as indented JSON inside an HTML <pre> block, every
// special character escaped.
func (s *Server) writeIndex(w http.ResponseWriter, body interface{}) {
	data, err := json.MarshalIndent(body, "", "    ")
	if err != nil {
		s.renderError(w, s.log, err)
		return
	}

	escaper := strings.NewReplacer(
		"&", "&amp;",
		`"`, "&quot;",
		"'", "&apos;",
		">", "&gt;",
		"<", "&lt;",
	)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<pre>%s</pre>", escaper.Replace(string(data)))
}

func responseStatus(resp *gateway.Response) int {
	if resp.StatusCode != 0 {
		return resp.StatusCode
	}
	return http.StatusOK
}
