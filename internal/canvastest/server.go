// Package canvastest runs an in-memory canvas server for tests. It speaks
// the same wire schemas as the real server, including rate-limit headers,
// and lets a test script forced responses per endpoint.
package canvastest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"canvaspaint/internal/ratelimit"
	"canvaspaint/internal/transport"
)

// Forced is a canned response returned instead of the normal handling.
type Forced struct {
	Status int
	Header http.Header
}

// Write is a pixel write the server accepted.
type Write struct {
	X, Y  int
	Color string
}

// Server is a fake canvas.
type Server struct {
	*httptest.Server

	Schema transport.Schema
	Token  string // required bearer token; empty disables the check

	mu       sync.Mutex
	width    int
	height   int
	pix      []byte
	forced   map[string][]Forced
	requests map[string]int
	writes   []Write
	refresh  string
}

// New starts a width x height canvas filled with black.
func New(width, height int, schema transport.Schema) *Server {
	s := &Server{
		Schema:   schema,
		width:    width,
		height:   height,
		pix:      make([]byte, width*height*3),
		forced:   make(map[string][]Forced),
		requests: make(map[string]int),
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get(s.Schema.SizePath, s.guard(ratelimit.EndpointSize, s.handleSize))
	r.Get(s.Schema.GetPixelPath, s.guard(ratelimit.EndpointGetPixel, s.handleGetPixel))
	r.Method(s.Schema.SetPixelMethod, s.Schema.SetPixelPath, s.guard(ratelimit.EndpointSetPixel, s.handleSetPixel))
	r.Get(s.Schema.PixelsPath, s.guard(ratelimit.EndpointGetPixels, s.handlePixels))
	r.Post(s.Schema.AuthPath, s.handleAuth)

	// HEAD probes; when two endpoints share a path the write endpoint wins.
	heads := map[string]string{}
	heads[s.Schema.SizePath] = ratelimit.EndpointSize
	heads[s.Schema.GetPixelPath] = ratelimit.EndpointGetPixel
	heads[s.Schema.PixelsPath] = ratelimit.EndpointGetPixels
	heads[s.Schema.SetPixelPath] = ratelimit.EndpointSetPixel
	for path, endpoint := range heads {
		r.Head(path, s.guard(endpoint, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
	}
	return r
}

// guard counts the request, enforces the token and serves forced responses.
func (s *Server) guard(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[endpoint+" "+r.Method]++
		var forced *Forced
		if q := s.forced[endpoint]; len(q) > 0 {
			forced = &q[0]
			s.forced[endpoint] = q[1:]
		}
		token := s.Token
		s.mu.Unlock()

		if forced != nil {
			for k, vs := range forced.Header {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
			w.WriteHeader(forced.Status)
			fmt.Fprintf(w, `{"detail":"forced %d"}`, forced.Status)
			return
		}
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"bad token"}`))
			return
		}
		w.Header().Set(ratelimit.HeaderRemaining, "100")
		w.Header().Set(ratelimit.HeaderReset, "0")
		next(w, r)
	}
}

func (s *Server) handleSize(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, map[string]int{"width": s.width, "height": s.height})
}

func (s *Server) handleGetPixel(w http.ResponseWriter, r *http.Request) {
	x, errX := strconv.Atoi(r.URL.Query().Get("x"))
	y, errY := strconv.Atoi(r.URL.Query().Get("y"))
	s.mu.Lock()
	defer s.mu.Unlock()
	if errX != nil || errY != nil || !s.inside(x, y) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"axis out of range"}`))
		return
	}
	writeJSON(w, map[string]any{"x": x, "y": y, s.Schema.ColorField: s.colorAt(x, y)})
}

func (s *Server) handleSetPixel(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	x, _ := body["x"].(float64)
	y, _ := body["y"].(float64)
	color, _ := body[s.Schema.ColorField].(string)
	rgb, err := hex.DecodeString(color)
	if err != nil || len(rgb) != 3 {
		http.Error(w, "bad color", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inside(int(x), int(y)) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"axis out of range"}`))
		return
	}
	copy(s.pix[(int(y)*s.width+int(x))*3:], rgb)
	s.writes = append(s.writes, Write{X: int(x), Y: int(y), Color: color})
	writeJSON(w, map[string]string{"message": "added pixel"})
}

func (s *Server) handlePixels(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(s.pix)
}

// handleAuth answers a refresh token r with the access token "access-"+r.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refresh != "" && body.RefreshToken != s.refresh {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]any{
		"access_token":  "access-" + body.RefreshToken,
		"refresh_token": body.RefreshToken,
		"expires_in":    3600,
	})
}

// RequireRefreshToken makes /authenticate accept only token.
func (s *Server) RequireRefreshToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = token
}

// SetPixel paints directly, bypassing the API.
func (s *Server) SetPixel(x, y int, color string) {
	rgb, err := hex.DecodeString(color)
	if err != nil || len(rgb) != 3 {
		panic("canvastest: bad color " + color)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.pix[(y*s.width+x)*3:], rgb)
}

// Pixel returns the color at x, y.
func (s *Server) Pixel(x, y int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.colorAt(x, y)
}

// Force queues canned responses for endpoint, served in order.
func (s *Server) Force(endpoint string, responses ...Forced) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced[endpoint] = append(s.forced[endpoint], responses...)
}

// Requests returns how many requests endpoint received with method.
func (s *Server) Requests(endpoint, method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[endpoint+" "+method]
}

// Writes returns the accepted writes in order.
func (s *Server) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

func (s *Server) inside(x, y int) bool {
	return x >= 0 && y >= 0 && x < s.width && y < s.height
}

func (s *Server) colorAt(x, y int) string {
	i := (y*s.width + x) * 3
	return hex.EncodeToString(s.pix[i : i+3])
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
