package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"stayops/internal/engine"
	"stayops/internal/logging"
	"stayops/internal/metrics"
	"stayops/internal/repo"
)

const (
	apiBase     = "/api"
	openAPIPath = "/api/openapi.json"
	dateLayout  = "2006-01-02"
)

// Config for the HTTP API handler.
type Config struct {
	Engine  engine.Engine
	Auth    AuthConfig
	Log     *zap.Logger
	Metrics *metrics.Metrics
	// Timeout bounds each request; zero disables it.
	Timeout time.Duration
}

// apiError is the error envelope: {"error": "<message>"}.
type apiError struct {
	status  int
	Message string `json:"error" example:"unauthorized"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

func newAPIError(status int, message string) huma.StatusError {
	if message == "" {
		message = strings.ToLower(http.StatusText(status))
	}
	return &apiError{status: status, Message: message}
}

// New returns an HTTP handler exposing the trigger and conflict endpoints.
func New(cfg Config) (http.Handler, error) {
	if strings.TrimSpace(cfg.Auth.CronSecret) == "" {
		return nil, errors.New("cron secret is required")
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		if len(errs) > 0 {
			msg = fmt.Sprintf("%s: %v", msg, errs[0])
		}
		return newAPIError(status, msg)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(logging.Middleware(log))
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Middleware)
	}
	if cfg.Timeout > 0 {
		router.Use(middleware.Timeout(cfg.Timeout))
	}
	router.Use(newAuthMiddleware(cfg.Auth, log))

	hcfg := huma.DefaultConfig("StayOps API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	// no $schema field or Link header on responses
	hcfg.CreateHooks = nil
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, apiBase)

	registerDocs(router)
	registerHealth(group)
	registerCron(group, cfg.Engine, log)
	registerConflicts(group, cfg.Engine)
	registerOpenAPI(router, api)
	if cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}
	return router, nil
}

// sweepError reports a systemic sweep failure with its underlying message.
func sweepError(ctx context.Context, log *zap.Logger, sweep string, err error) huma.StatusError {
	logging.FromContext(ctx, log).Error("sweep failed", zap.String("sweep", sweep), zap.Error(err))
	return newAPIError(http.StatusInternalServerError, err.Error())
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, engine.ErrInvalidWindow):
		return newAPIError(http.StatusBadRequest, err.Error())
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, err.Error())
	default:
		return newAPIError(http.StatusInternalServerError, err.Error())
	}
}

func registerDocs(r chi.Router) {
	r.Get(apiBase+"/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML())
	})
}

func registerOpenAPI(r chi.Router, api huma.API) {
	var spec []byte
	r.Get(openAPIPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.Schemas != nil {
		oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["cronSecret"] = &huma.SecurityScheme{
		Type:        "http",
		Scheme:      "bearer",
		Description: "Shared secret held by the periodic job runner",
	}
	oas.Components.SecuritySchemes["operatorJWT"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			switch {
			case strings.HasPrefix(route, cronPrefix):
				op.Security = []map[string][]string{{"cronSecret": {}}}
			case strings.HasPrefix(route, orgsPrefix):
				op.Security = []map[string][]string{{"operatorJWT": {}}}
			default:
				op.Security = []map[string][]string{}
			}
		}
	}
}

func swaggerHTML() string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>StayOps API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, openAPIPath)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		return &healthOutput{Body: HealthResponse{Status: "ok"}}, nil
	})
}

func registerCron(api huma.API, e engine.Engine, log *zap.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-recurring",
		Method:      http.MethodGet,
		Path:        "/cron/generate-recurring",
		Summary:     "Generate missions from due recurrence templates",
		Tags:        []string{"cron"},
	}, func(ctx context.Context, _ *struct{}) (*generateRecurringOutput, error) {
		res, err := e.GenerateDueOccurrences(ctx, e.Today())
		if err != nil {
			return nil, sweepError(ctx, log, "recurrence", err)
		}
		return &generateRecurringOutput{Body: GenerateRecurringResponse{Success: true, Generated: res.Generated}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalate-incidents",
		Method:      http.MethodGet,
		Path:        "/cron/escalate-incidents",
		Summary:     "Escalate the severity of aging incidents",
		Tags:        []string{"cron"},
	}, func(ctx context.Context, _ *struct{}) (*escalateIncidentsOutput, error) {
		res, err := e.RunEscalationSweep(ctx)
		if err != nil {
			return nil, sweepError(ctx, log, "escalation", err)
		}
		return &escalateIncidentsOutput{Body: EscalateIncidentsResponse{Success: true, Escalated: res.Escalated}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "incident-reminders",
		Method:      http.MethodGet,
		Path:        "/cron/incident-reminders",
		Summary:     "Remind admins about long-open incidents",
		Tags:        []string{"cron"},
	}, func(ctx context.Context, _ *struct{}) (*incidentRemindersOutput, error) {
		res, err := e.RunReminderSweep(ctx)
		if err != nil {
			return nil, sweepError(ctx, log, "reminders", err)
		}
		return &incidentRemindersOutput{Body: IncidentRemindersResponse{Success: true, RemindersSent: res.RemindersSent}}, nil
	})
}

func registerConflicts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-conflicts",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/conflicts",
		Summary:     "Schedule conflicts for the organisation's assignees",
		Tags:        []string{"missions"},
	}, func(ctx context.Context, input *conflictsInput) (*conflictsOutput, error) {
		if err := requireOrg(ctx, input.OrgID); err != nil {
			return nil, err
		}
		loc := e.Location
		if loc == nil {
			loc = time.UTC
		}
		start, err := time.ParseInLocation(dateLayout, input.Start, loc)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid start date, want YYYY-MM-DD")
		}
		end, err := time.ParseInLocation(dateLayout, input.End, loc)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid end date, want YYYY-MM-DD")
		}
		conflicts, err := e.DetectConflicts(ctx, input.OrgID, start, end)
		if err != nil {
			return nil, handleError(err)
		}
		return &conflictsOutput{Body: ConflictsResponse{Conflicts: conflicts}}, nil
	})
}
