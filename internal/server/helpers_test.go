package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"lfgkeeper/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupMockDB creates a GORM *gorm.DB backed by sqlmock for unit tests.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	return gormDB, mock
}

func getJSON(t *testing.T, app *fiber.App, target string) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

// --- parsePagination ---

func TestParsePagination(t *testing.T) {
	app := fiber.New()
	app.Get("/items", func(c *fiber.Ctx) error {
		p := parsePagination(c, 25)
		return c.JSON(fiber.Map{"limit": p.Limit, "offset": p.Offset})
	})

	tests := []struct {
		query  string
		limit  float64
		offset float64
	}{
		{"", 25, 0},
		{"?limit=10&offset=30", 10, 30},
		{"?limit=0&offset=-4", 25, 0},
		{"?limit=5000", maxPaginationLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, body := getJSON(t, app, "/items"+tt.query)
			assert.Equal(t, tt.limit, body["limit"])
			assert.Equal(t, tt.offset, body["offset"])
		})
	}
}

// --- respondError ---

func TestRespondError_MapsCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", models.NewValidationError("bad payload"), http.StatusBadRequest, models.CodeValidation},
		{"limit", models.NewLimitReachedError(3), http.StatusTooManyRequests, models.CodeLimitReached},
		{"conflict", models.NewConflictError(models.ReasonAlreadyReviewed), http.StatusConflict, models.CodeConflict},
		{"not found", models.NewNotFoundError("Request", "r-1"), http.StatusNotFound, models.CodeNotFound},
		{"unauthorized", models.NewUnauthorizedError("not yours"), http.StatusForbidden, models.CodeUnauthorized},
		{"persistence", models.NewPersistenceError(errors.New("disk full")), http.StatusInternalServerError, models.CodePersistence},
		{"plain", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return respondError(c, tt.err) })

			status, body := getJSON(t, app, "/")
			assert.Equal(t, tt.status, status)
			if tt.code == "" {
				assert.NotContains(t, body, "code")
			} else {
				assert.Equal(t, tt.code, body["code"])
			}
			if tt.code == models.CodePersistence {
				assert.NotContains(t, body, "details", "driver errors stay internal")
			}
		})
	}
}

// --- requestID ---

func TestRequestID_RejectsBlank(t *testing.T) {
	app := fiber.New()
	app.Get("/requests/:id?", func(c *fiber.Ctx) error {
		id, err := requestID(c)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"id": id})
	})

	status, body := getJSON(t, app, "/requests/abc")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "abc", body["id"])

	status, _ = getJSON(t, app, "/requests")
	assert.Equal(t, http.StatusBadRequest, status)
}

// --- readiness ---

func TestReadinessCheck_DatabaseDown(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	s := &Server{db: db}
	app := fiber.New()
	app.Get("/health/ready", s.ReadinessCheck)

	status, body := getJSON(t, app, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "unhealthy", body["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
