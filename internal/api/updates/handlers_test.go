package updates_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/labstack/echo/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"

	"github.com/lissto-dev/updater/internal/api/updates"
	"github.com/lissto-dev/updater/internal/middleware"
	"github.com/lissto-dev/updater/internal/server"
	"github.com/lissto-dev/updater/pkg/auth"
	"github.com/lissto-dev/updater/pkg/response"
	"github.com/lissto-dev/updater/pkg/state"
	"github.com/lissto-dev/updater/pkg/update"
	"github.com/lissto-dev/updater/pkg/version"
)

// mockUpdater mocks the Updater interface
type mockUpdater struct {
	mock.Mock
}

func (m *mockUpdater) UpdateAndRestart(ctx context.Context, req update.Request) (update.Response, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(update.Response), args.Error(1)
}

const updateBody = `{
  "operationId": "op-7",
  "image": {"repository": "acme/web", "tag": "1.0.0"},
  "source": "localRepository",
  "targetVersion": "1.1.0",
  "workflow": {
    "pullPath": "/srv/web",
    "branch": "main",
    "buildContext": "/srv/web",
    "dockerfile": "Dockerfile",
    "newImageTag": "acme/web:1.1.0",
    "runArgs": ["-d", "--name", "web"]
  },
  "timeouts": {"healthCheckMs": 30000},
  "rollbackPolicy": {"enabled": true}
}`

var _ = Describe("Updates handler", func() {
	var (
		updater *mockUpdater
		runtime *state.Runtime
		e       *echo.Echo
		role    auth.Role
	)

	BeforeEach(func() {
		updater = new(mockUpdater)
		runtime = state.NewRuntime()
		role = auth.Admin
		e = echo.New()
		e.Validator = server.NewValidator()
		g := e.Group("/updates", func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				c.Set("user", &middleware.User{Name: "tester", Role: role})
				return next(c)
			}
		})
		updates.RegisterRoutes(g, updates.NewHandler(updater, runtime))
	})

	do := func(method, path, body string) (*httptest.ResponseRecorder, response.Response) {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		var decoded response.Response
		Expect(json.Unmarshal(rec.Body.Bytes(), &decoded)).To(Succeed())
		return rec, decoded
	}

	Describe("POST /updates", func() {
		It("holds the image lock while the pipeline runs", func() {
			updater.On("UpdateAndRestart", mock.Anything, mock.AnythingOfType("update.Request")).
				Run(func(args mock.Arguments) {
					lock, ok := runtime.Locks().Get("acme/web:1.0.0")
					Expect(ok).To(BeTrue())
					Expect(lock.OperationID).To(Equal("op-7"))
				}).
				Return(update.Response{OperationID: "op-7", ImageKey: "acme/web:1.0.0", Success: true}, nil)

			rec, body := do(http.MethodPost, "/updates", updateBody)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body.Message).To(Equal("Update completed"))
			_, locked := runtime.Locks().Get("acme/web:1.0.0")
			Expect(locked).To(BeFalse())
			updater.AssertExpectations(GinkgoT())
		})

		It("reports a failed pipeline in the body", func() {
			updater.On("UpdateAndRestart", mock.Anything, mock.Anything).
				Return(update.Response{OperationID: "op-7", Success: false}, nil)

			rec, body := do(http.MethodPost, "/updates", updateBody)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body.Message).To(Equal("Update failed"))
			Expect(body.Data).To(HaveKeyWithValue("success", false))
		})

		It("generates an operation id when none is given", func() {
			updater.On("UpdateAndRestart", mock.Anything, mock.MatchedBy(func(req update.Request) bool {
				return strings.HasPrefix(req.OperationID, "op-") && req.OperationID != "op-"
			})).Return(update.Response{Success: true}, nil)

			rec, _ := do(http.MethodPost, "/updates", strings.Replace(updateBody, `"operationId": "op-7",`, "", 1))

			Expect(rec.Code).To(Equal(http.StatusOK))
			updater.AssertExpectations(GinkgoT())
		})

		It("rejects a concurrent update of the same image", func() {
			Expect(runtime.TryLockUpdate("acme/web:1.0.0", "op-1")).To(Succeed())

			rec, body := do(http.MethodPost, "/updates", updateBody)

			Expect(rec.Code).To(Equal(http.StatusConflict))
			Expect(body.Code).To(Equal(string(version.CodeUpdateConflict)))
			Expect(body.Error).To(ContainSubstring("op-1"))
			updater.AssertNotCalled(GinkgoT(), "UpdateAndRestart", mock.Anything, mock.Anything)

			lock, _ := runtime.Locks().Get("acme/web:1.0.0")
			Expect(lock.OperationID).To(Equal("op-1"))
		})

		It("releases the lock after a rejected request", func() {
			updater.On("UpdateAndRestart", mock.Anything, mock.Anything).
				Return(update.Response{}, version.InvalidInput("runArgs must name the container with --name"))

			rec, _ := do(http.MethodPost, "/updates", updateBody)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			_, locked := runtime.Locks().Get("acme/web:1.0.0")
			Expect(locked).To(BeFalse())
		})

		It("validates the workflow", func() {
			rec, body := do(http.MethodPost, "/updates", strings.Replace(updateBody, `"branch": "main",`, "", 1))

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(body.Code).To(Equal(string(version.CodeInvalidInput)))
		})

		It("requires the operator role", func() {
			role = auth.Viewer

			rec, _ := do(http.MethodPost, "/updates", updateBody)

			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})
	})

	Describe("locks", func() {
		It("shows the holder of a lock", func() {
			Expect(runtime.TryLockUpdate("acme/web:1.0.0", "op-1")).To(Succeed())

			rec, body := do(http.MethodGet, "/updates/locks/acme%2Fweb/1.0.0", "")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body.Data).To(HaveKeyWithValue("operationId", "op-1"))
		})

		It("returns 404 when the image is free", func() {
			rec, _ := do(http.MethodGet, "/updates/locks/acme%2Fweb/1.0.0", "")

			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("lets an admin force-release a lock", func() {
			Expect(runtime.TryLockUpdate("acme/web:1.0.0", "op-1")).To(Succeed())

			rec, _ := do(http.MethodDelete, "/updates/locks/acme%2Fweb/1.0.0", "")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(runtime.TryLockUpdate("acme/web:1.0.0", "op-2")).To(Succeed())
		})

		It("keeps force-release from operators", func() {
			role = auth.Operator
			Expect(runtime.TryLockUpdate("acme/web:1.0.0", "op-1")).To(Succeed())

			rec, _ := do(http.MethodDelete, "/updates/locks/acme%2Fweb/1.0.0", "")

			Expect(rec.Code).To(Equal(http.StatusForbidden))
			_, locked := runtime.Locks().Get("acme/web:1.0.0")
			Expect(locked).To(BeTrue())
		})
	})
})
