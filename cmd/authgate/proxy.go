package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/authgate/authgate"
	"github.com/authgate/authgate/middleware"
	"github.com/authgate/authgate/pathmatch"
	"github.com/authgate/authgate/session"
	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Headers set on proxied requests. Values sent by the client are dropped.
const (
	UserHeader  = "X-Forwarded-User"
	EmailHeader = "X-Forwarded-Email"
)

type flags struct {
	configFile      string
	envFiles        []string
	upstream        string
	listen          string
	logLevel        string
	metricsPath     string
	cleanupInterval time.Duration
}

type server struct {
	gate    *authgate.Gate
	handler http.Handler
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// loadConfig reads the config file, when one is named, and the environment.
func loadConfig(f flags) (*authgate.Config, error) {
	cfg := authgate.DefaultConfig()
	if f.configFile != "" {
		var err error
		if cfg, err = authgate.LoadConfigFile(f.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(f.envFiles...); err != nil {
		return nil, err
	}
	if f.metricsPath != "" {
		cfg.Whitelist = append(cfg.Whitelist, pathmatch.Exact(f.metricsPath))
	}
	return cfg, nil
}

func newServer(ctx context.Context, f flags, logger hclog.Logger) (*server, error) {
	const op = "main.newServer"
	upstream, err := url.Parse(f.upstream)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("%s: upstream %q must be an absolute URL", op, f.upstream)
	}
	cfg, err := loadConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	gate, err := authgate.New(ctx, cfg, authgate.WithLogger(logger), authgate.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	app := chi.NewRouter()
	if f.metricsPath != "" {
		app.Handle(f.metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	proxy := newProxy(gate, upstream, logger.Named("proxy"))
	app.NotFound(proxy.ServeHTTP)
	app.MethodNotAllowed(proxy.ServeHTTP)
	return &server{gate: gate, handler: gate.Wrap(app)}, nil
}

// newProxy forwards to upstream and names the logged in user in UserHeader
// and EmailHeader for requests the middleware authenticated.
func newProxy(gate *authgate.Gate, upstream *url.URL, logger hclog.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
			pr.Out.Header.Del(UserHeader)
			pr.Out.Header.Del(EmailHeader)
			// whitelisted requests were not authenticated, whatever their
			// session holds
			if v, _ := middleware.VerdictFromContext(pr.In.Context()); v != middleware.AlreadyAuthenticated {
				return
			}
			s, err := gate.Handler().Open(pr.In)
			if err != nil {
				return
			}
			user := s.GetMap(session.UserKey)
			if name, ok := user["preferred_username"].(string); ok {
				pr.Out.Header.Set(UserHeader, name)
			}
			if email, ok := user["email"].(string); ok {
				pr.Out.Header.Set(EmailHeader, email)
			}
		},
		ErrorLog: logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("upstream request failed", "path", r.URL.Path, "error", err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}
