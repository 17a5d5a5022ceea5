package authgate_test

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/authgate/authgate"
	"github.com/authgate/authgate/middleware"
	"github.com/hashicorp/go-hclog"
)

func Example() {
	ctx := context.Background()

	// Read the client adapter file exported by the Keycloak admin console,
	// then let AUTHGATE_* variables override it.
	cfg, err := authgate.LoadConfigFile("keycloak.json")
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatal(err)
	}
	cfg.LoginPath = "/login"
	cfg.HeartbeatPath = "/healthz"
	cfg.Whitelist = append(cfg.Whitelist, "^/static/")

	gate, err := authgate.New(ctx, cfg, authgate.WithLogger(hclog.Default()))
	if err != nil {
		log.Fatal(err)
	}
	defer gate.Close()

	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		base, _ := middleware.BaseURLFromContext(r.Context())
		fmt.Fprintf(w, "hello from %s", base)
	})
	log.Fatal(http.ListenAndServe(":8080", gate.Wrap(app)))
}
