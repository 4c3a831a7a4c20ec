package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
	"github.com/go-chi/chi/v5"
)

type contextKey string

const versionKey contextKey = "ocpi-version"

// UnsupportedVersion 路由中的协议版本不受支持
const UnsupportedVersion = "Unsupported version"

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeData 成功响应，data 为 nil 时信封中不带 data
func writeData[T any](w http.ResponseWriter, status int, data T) {
	writeJSON(w, status, ocpi.NewResponse(data))
}

func writeEmpty(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, ocpi.NewResponse[any](nil))
}

func writeFault(w http.ResponseWriter, f *ocpi.Fault) {
	writeJSON(w, f.HTTPStatus, f.Envelope())
}

func versionFrom(ctx context.Context) ocpi.Version {
	if v, ok := ctx.Value(versionKey).(ocpi.Version); ok {
		return v
	}
	return ocpi.DefaultVersion
}

// versionCtx 校验路由中的协议版本
func (s *Server) versionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version, err := s.validator.ValidateVersion(chi.URLParam(r, "version"))
		if err != nil || !s.supports(version) {
			writeFault(w, &ocpi.Fault{
				HTTPStatus:  http.StatusBadRequest,
				StatusCode:  ocpi.StatusUnsupportedVersion,
				Description: UnsupportedVersion,
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), versionKey, version)))
	})
}

func (s *Server) supports(version ocpi.Version) bool {
	for _, v := range s.options.Versions {
		if v == version {
			return true
		}
	}
	return false
}

// readBody 读取请求体，超出上限返回 400
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, *ocpi.Fault) {
	body := http.MaxBytesReader(w, r.Body, s.options.MaxBodyBytes)
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, ocpi.BadRequest("Request body too large!")
		}
		return nil, ocpi.BadRequest("Unable to read request body!")
	}
	return data, nil
}

// decodeBody 读取并解析JSON请求体
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) *ocpi.Fault {
	data, fault := s.readBody(w, r)
	if fault != nil {
		return fault
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return ocpi.BadRequest("Invalid JSON body!")
	}
	return nil
}

// validate 校验结构体，失败时描述第一条错误
func (s *Server) validate(v interface{}) *ocpi.Fault {
	if err := s.validator.ValidateStruct(v); err != nil {
		return ocpi.BadRequest(err.Error())
	}
	return nil
}

// recoverer 处理器 panic 时仍以信封形式返回
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error().
					Interface("panic", rec).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Recovered from handler panic")
				writeFault(w, ocpi.ServerFault(ocpi.StatusServerError, "Internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack WebSocket 升级需要底层连接
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request served")
	})
}
