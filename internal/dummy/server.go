// Package dummy is a local target for trying runs without touching real hosts.
package dummy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type ServerConfig struct {
	Port     int
	Username string
	Password string
	// LimitRPS is the sustained rate /limited accepts before answering 429.
	LimitRPS int
	// NoJitter disables the artificial latency, for tests.
	NoJitter bool
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Username == "" {
		c.Username = "admin"
	}
	if c.Password == "" {
		c.Password = "hunter2"
	}
	if c.LimitRPS <= 0 {
		c.LimitRPS = 20
	}
	return c
}

type server struct {
	cfg     ServerConfig
	limiter *rate.Limiter
}

// NewHandler returns the dummy endpoints.
func NewHandler(cfg ServerConfig) http.Handler {
	cfg = cfg.withDefaults()
	s := &server{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.LimitRPS), cfg.LimitRPS),
	}

	mux := http.NewServeMux()

	// 10-50ms
	mux.HandleFunc("/fast", func(w http.ResponseWriter, r *http.Request) {
		s.sleep(10, 40)
		w.Write([]byte("Fast response"))
	})

	// 100-300ms
	mux.HandleFunc("/medium", func(w http.ResponseWriter, r *http.Request) {
		s.sleep(100, 200)
		w.Write([]byte("Medium response"))
	})

	// 1s-2s, useful for probe timeouts
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		s.sleep(1000, 1000)
		w.Write([]byte("Slow response"))
	})

	// Usually fast, 5% of requests take 2s. P99 suffers, P50 does not.
	mux.HandleFunc("/spike", func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.NoJitter {
			if rand.Float32() < 0.05 {
				time.Sleep(2 * time.Second)
			} else {
				time.Sleep(20 * time.Millisecond)
			}
		}
		w.Write([]byte("Spikey response"))
	})

	mux.HandleFunc("/error", func(w http.ResponseWriter, r *http.Request) {
		rnd := rand.Float32()
		switch {
		case rnd < 0.2:
			http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
		case rnd < 0.4:
			http.Error(w, "429 Too Many Requests", http.StatusTooManyRequests)
		default:
			w.Write([]byte("OK"))
		}
	})

	mux.HandleFunc("/limited", s.handleLimited)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, loginPage)
	})
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<h1>Welcome back</h1><a href=\"/logout\">Logout</a>")
	})

	return mux
}

const loginPage = `<form method="post" action="/login">
<input name="username"><input name="password" type="password"><button>Sign in</button>
</form>`

func (s *server) sleep(minMs, jitterMs int) {
	if s.cfg.NoJitter {
		return
	}
	time.Sleep(time.Duration(rand.IntN(jitterMs)+minMs) * time.Millisecond)
}

func (s *server) handleLimited(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	w.Write([]byte("OK"))
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "malformed body"})
			return
		}
		if s.valid(body.Username, body.Password) {
			json.NewEncoder(w).Encode(map[string]string{"token": uuid.NewString()})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if s.valid(r.PostForm.Get("username"), r.PostForm.Get("password")) {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, "<p>Invalid username or password</p>"+loginPage)
}

func (s *server) valid(user, pass string) bool {
	return user == s.cfg.Username && pass == s.cfg.Password
}

// ListenAndServe serves the dummy endpoints until ctx is cancelled.
func ListenAndServe(ctx context.Context, cfg ServerConfig) error {
	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.InfoContext(ctx, "dummy server listening",
		slog.String("addr", addr),
		slog.String("endpoints", "/fast /medium /slow /spike /error /limited /login /dashboard"),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
