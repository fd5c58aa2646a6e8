package middleware

import (
	"context"

	"github.com/OFFIS-RIT/deepresearch/internal/queue"
	"github.com/OFFIS-RIT/deepresearch/pkg/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type AppUser struct {
	UserID      string
	Role        string
	Permissions []string
}

// ReportStore reads and removes reports kept in object storage.
type ReportStore interface {
	GetReport(ctx context.Context, key string) (string, error)
	DownloadLink(ctx context.Context, key string) (string, error)
	DeleteReport(ctx context.Context, key string) error
}

// Answerer answers follow-up questions about a finished report.
type Answerer interface {
	Answer(ctx context.Context, report, question, language string) (string, error)
}

// App holds the shared dependencies of the request handlers. Keyfunc is nil
// when JWT auth is disabled; Reports is nil without object storage.
type App struct {
	Runs     store.RunStorage
	Queue    queue.Publisher
	Keyfunc  jwt.Keyfunc
	Reports  ReportStore
	Answerer Answerer

	MasterAPIKey   string
	MasterUserID   string
	MasterUserRole string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{Context: c, App: app})
		}
	}
}
