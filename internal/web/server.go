// Package web serves the read-only dashboard: recent revisions and their
// verdicts, per-gate health from the audit log, drill-down into one
// revision's gates and hop trail, and the rendered ledger document. The
// dashboard only reads; every write still goes through workers.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/lucasnoah/gatewright/internal/db"
	"github.com/lucasnoah/gatewright/internal/ledger"
	"github.com/lucasnoah/gatewright/internal/registry"
	"github.com/lucasnoah/gatewright/internal/status"
)

//go:embed templates
var templateFS embed.FS

var funcMap = template.FuncMap{
	"verdictBadge": func(verdict string) string {
		switch verdict {
		case "ready":
			return "badge badge-ready"
		case "needs-rework":
			return "badge badge-needs-rework"
		}
		return "badge badge-in-progress"
	},
	"stateClass": func(state string) string {
		return "state state-" + state
	},
	"relTime": relTime,
}

// Deps wires the dashboard. Ledger may be nil when no ledger is configured;
// the ledger page then explains that instead of rendering a document.
type Deps struct {
	Statuses  *status.Synchronizer
	Audit     *db.DB
	Registry  *registry.Registry
	Ledger    *ledger.Manager
	LedgerKey string
	Port      int
	Log       *zap.Logger
}

// Server is the read-only dashboard server.
type Server struct {
	deps Deps
	log  *zap.Logger

	dashboardTmpl *template.Template
	revisionTmpl  *template.Template
	ledgerTmpl    *template.Template
}

// NewServer creates a Server with parsed templates.
func NewServer(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		deps:          deps,
		log:           log,
		dashboardTmpl: mustParseTmpl("base.html", "dashboard.html"),
		revisionTmpl:  mustParseTmpl("base.html", "revision.html"),
		ledgerTmpl:    mustParseTmpl("base.html", "ledger.html"),
	}
}

func mustParseTmpl(names ...string) *template.Template {
	patterns := make([]string, len(names))
	for i, n := range names {
		patterns[i] = "templates/" + n
	}
	return template.Must(template.New("").Funcs(funcMap).ParseFS(templateFS, patterns...))
}

// Handler returns the route table. Split from Start so tests can drive it
// through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/":
			s.handleDashboard(w, r)
		case r.URL.Path == "/ledger":
			s.handleLedger(w, r)
		case strings.HasPrefix(r.URL.Path, "/revision/"):
			s.routeRevision(w, r)
		default:
			http.NotFound(w, r)
		}
	})
	return mux
}

// Start registers routes and starts listening.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.deps.Port)
	s.log.Info("dashboard listening", zap.String("addr", "http://localhost"+addr))
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) routeRevision(w http.ResponseWriter, r *http.Request) {
	rev := strings.Trim(strings.TrimPrefix(r.URL.Path, "/revision/"), "/")
	if rev == "" || strings.Contains(rev, "/") {
		http.NotFound(w, r)
		return
	}
	s.handleRevisionDetail(w, r, rev)
}
