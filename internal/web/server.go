package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"pinger-sim/internal/geometry"
	"pinger-sim/internal/pinger"
)

// ErrRepositionBusy is returned by a Repositioner whose queue is full.
var ErrRepositionBusy = errors.New("reposition queue full")

// Repositioner accepts asynchronous pinger position updates.
type Repositioner interface {
	Position() geometry.Position
	Reposition(p geometry.Position) error
}

// History serves recent measurements, newest first.
type History interface {
	Measurements(ctx context.Context, limit int) ([]pinger.Measurement, error)
}

// Deps wires the API to the running simulation. Nil members disable the
// endpoints that need them.
type Deps struct {
	Status       *Status
	Pinger       Repositioner
	Measurements *MeasurementBroadcaster
	History      History
	Logs         *LogBuffer
	Metrics      http.Handler
	Session      string
}

type positionBody struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

func Handler(d Deps) http.Handler {
	mux := http.NewServeMux()
	status := d.Status
	if status == nil {
		status = NewStatus()
	}

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, status.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/pinger/position", func(w http.ResponseWriter, r *http.Request) {
		if d.Pinger == nil {
			http.Error(w, "pinger unavailable", http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, d.Pinger.Position())
		case http.MethodPost:
			r.Body = http.MaxBytesReader(w, r.Body, 4096)
			dec := json.NewDecoder(r.Body)
			dec.DisallowUnknownFields()
			var body positionBody
			if err := dec.Decode(&body); err != nil {
				http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
				return
			}
			if body.X == nil || body.Y == nil || body.Z == nil {
				http.Error(w, "x, y and z are required", http.StatusBadRequest)
				return
			}
			p := geometry.Position{X: *body.X, Y: *body.Y, Z: *body.Z}
			if err := p.Validate(); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := d.Pinger.Reposition(p); err != nil {
				code := http.StatusInternalServerError
				if errors.Is(err, ErrRepositionBusy) {
					code = http.StatusServiceUnavailable
				}
				http.Error(w, err.Error(), code)
				return
			}
			writeJSON(w, http.StatusAccepted, p)
		default:
			w.Header().Set("Allow", http.MethodGet+", "+http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/measurement", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		m, ok := d.Measurements.Latest()
		if !ok {
			http.Error(w, "no measurement yet", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, m)
	})

	if d.Measurements != nil {
		mux.Handle("/api/measurements/stream", streamHandler(d.Measurements))
	}

	if d.History != nil {
		mux.HandleFunc("/api/measurements", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				w.Header().Set("Allow", http.MethodGet)
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			limit := 100
			if v := r.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 || n > 10000 {
					http.Error(w, "limit must be between 1 and 10000", http.StatusBadRequest)
					return
				}
				limit = n
			}
			ms, err := d.History.Measurements(r.Context(), limit)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if ms == nil {
				ms = []pinger.Measurement{}
			}
			writeJSON(w, http.StatusOK, ms)
		})
		mux.Handle("/api/measurements/chart", chartHandler(d.History))
	}

	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}
	if d.Metrics != nil {
		mux.Handle("/metrics", d.Metrics)
	}

	mux.Handle("/api/about", AboutHandler(d.Session))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap := status.Snapshot(time.Now().UTC())
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>Pinger Sim</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>Pinger Sim</h1>")
		_, _ = fmt.Fprintf(w, "<p>See <a href=\"/api/status\">/api/status</a> and <a href=\"/api/measurements/stream\">/api/measurements/stream</a>.</p>")
		_, _ = fmt.Fprintf(w, "<pre>frame_id=%s\ntopic=%s\nmeasurements_total=%d\nsim_time_sec=%.3f</pre>",
			snap.Pinger.FrameID, snap.Pinger.Topic, snap.MeasurementsTotal, snap.SimTimeSec,
		)
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

func streamHandler(b *MeasurementBroadcaster) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, ch := b.Subscribe(0)
		defer b.Unsubscribe(id)

		_, _ = fmt.Fprintf(w, ": connected\n\n")
		flusher.Flush()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				if err := writeEvent(w, m); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}

func writeEvent(w http.ResponseWriter, m pinger.Measurement) error {
	bts, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: measurement\ndata: %s\n\n", m.Seq, bts)
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

// Serve runs the API until ctx is done. There is no write timeout so that
// measurement streams stay open; they end when ctx does.
func Serve(ctx context.Context, listenAddr string, d Deps) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
