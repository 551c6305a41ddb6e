package auth_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"time"

	"github.com/frahmantamala/repairshop/internal/auth"
	"github.com/frahmantamala/repairshop/internal/session"
	"github.com/go-chi/chi"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

type apiClient struct {
	base   string
	http   *http.Client
	bearer string
	csrf   string
}

func (c *apiClient) do(method, path string, body interface{}) (int, map[string]interface{}) {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, rdr)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	if c.csrf != "" {
		req.Header.Set(auth.CSRFHeader, c.csrf)
	}

	resp, err := c.http.Do(req)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer resp.Body.Close()

	out := map[string]interface{}{}
	gomega.Expect(json.NewDecoder(resp.Body).Decode(&out)).To(gomega.Succeed())
	return resp.StatusCode, out
}

var _ = ginkgo.Describe("Handler", func() {
	var (
		f      *fixture
		server *httptest.Server
	)

	newClient := func() *apiClient {
		jar, err := cookiejar.New(nil)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		return &apiClient{base: server.URL, http: &http.Client{Jar: jar}}
	}

	ginkgo.BeforeEach(func() {
		f = newFixture()
		sessions := session.NewManager(session.NewMemoryStore(func() time.Time { return f.now }),
			session.WithClock(func() time.Time { return f.now }))
		h := auth.NewHandler(nil, f.deps, sessions)

		router := chi.NewRouter()
		router.Route("/auth", func(r chi.Router) { h.Mount(r, nil) })
		server = httptest.NewServer(router)
	})

	ginkgo.AfterEach(func() {
		server.Close()
		f.close()
	})

	ginkgo.It("logs in, reports the user and logs out over the session", func() {
		f.addUser("admin@example.com", "s3cret", f.adminID, auth.StatusActive)
		c := newClient()

		status, body := c.do(http.MethodGet, "/auth/me", nil)
		gomega.Expect(status).To(gomega.Equal(http.StatusUnauthorized))
		gomega.Expect(body["error"]).To(gomega.Equal("unauthenticated"))

		status, body = c.do(http.MethodPost, "/auth/login", map[string]string{"email": "admin@example.com", "password": "s3cret"})
		gomega.Expect(status).To(gomega.Equal(http.StatusOK))
		gomega.Expect(body["token"]).NotTo(gomega.BeEmpty())
		gomega.Expect(body["csrf_token"]).NotTo(gomega.BeEmpty())
		gomega.Expect(body["user"]).To(gomega.HaveKeyWithValue("role", "admin"))
		gomega.Expect(body["user"]).NotTo(gomega.HaveKey("password_hash"))

		status, body = c.do(http.MethodGet, "/auth/me", nil)
		gomega.Expect(status).To(gomega.Equal(http.StatusOK))
		gomega.Expect(body["user"]).To(gomega.HaveKeyWithValue("email", "admin@example.com"))

		status, body = c.do(http.MethodGet, "/auth/capabilities", nil)
		gomega.Expect(status).To(gomega.Equal(http.StatusOK))
		gomega.Expect(body["capabilities"]).To(gomega.ConsistOf("manage_options"))

		status, body = c.do(http.MethodPost, "/auth/logout", nil)
		gomega.Expect(status).To(gomega.Equal(http.StatusOK))
		gomega.Expect(body["status"]).To(gomega.Equal("logged_out"))

		status, _ = c.do(http.MethodGet, "/auth/me", nil)
		gomega.Expect(status).To(gomega.Equal(http.StatusUnauthorized))
	})

	ginkgo.It("returns invalid_credentials for a bad password", func() {
		f.addUser("admin@example.com", "s3cret", f.adminID, auth.StatusActive)
		status, body := newClient().do(http.MethodPost, "/auth/login", map[string]string{"email": "admin@example.com", "password": "x"})
		gomega.Expect(status).To(gomega.Equal(http.StatusUnauthorized))
		gomega.Expect(body).To(gomega.HaveKeyWithValue("error", "invalid_credentials"))
	})

	ginkgo.It("answers invalid_credentials for an empty or malformed body", func() {
		for _, raw := range []string{"{", "", "[]"} {
			req, err := http.NewRequest(http.MethodPost, server.URL+"/auth/login", bytes.NewBufferString(raw))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			var body map[string]interface{}
			gomega.Expect(json.NewDecoder(resp.Body).Decode(&body)).To(gomega.Succeed())
			resp.Body.Close()
			gomega.Expect(resp.StatusCode).To(gomega.Equal(http.StatusUnauthorized), raw)
			gomega.Expect(body).To(gomega.HaveKeyWithValue("error", "invalid_credentials"), raw)
		}
	})

	ginkgo.It("authenticates a bearer token without a session", func() {
		f.addUser("admin@example.com", "s3cret", f.adminID, auth.StatusActive)
		_, body := newClient().do(http.MethodPost, "/auth/login", map[string]string{"email": "admin@example.com", "password": "s3cret"})

		c := newClient()
		c.bearer = body["token"].(string)
		status, me := c.do(http.MethodGet, "/auth/me", nil)
		gomega.Expect(status).To(gomega.Equal(http.StatusOK))
		gomega.Expect(me["user"]).To(gomega.HaveKeyWithValue("email", "admin@example.com"))
	})

	ginkgo.Describe("invitations", func() {
		ginkgo.It("requires manage_options", func() {
			f.addUser("staff@example.com", "pw", f.staffID, auth.StatusActive)
			c := newClient()
			_, login := c.do(http.MethodPost, "/auth/login", map[string]string{"email": "staff@example.com", "password": "pw"})
			c.csrf = login["csrf_token"].(string)

			status, body := c.do(http.MethodPost, "/auth/invitations", map[string]interface{}{"email": "n@example.com", "name": "N", "role_id": f.staffID})
			gomega.Expect(status).To(gomega.Equal(http.StatusForbidden))
			gomega.Expect(body).To(gomega.HaveKeyWithValue("error", "forbidden"))

			anon := newClient()
			status, _ = anon.do(http.MethodPost, "/auth/invitations", map[string]interface{}{"email": "n@example.com", "role_id": f.staffID})
			gomega.Expect(status).To(gomega.Equal(http.StatusForbidden))
		})

		ginkgo.It("requires a CSRF token for session callers", func() {
			f.addUser("admin@example.com", "s3cret", f.adminID, auth.StatusActive)
			c := newClient()
			_, login := c.do(http.MethodPost, "/auth/login", map[string]string{"email": "admin@example.com", "password": "s3cret"})

			status, body := c.do(http.MethodPost, "/auth/invitations", map[string]interface{}{"email": "n@example.com", "role_id": f.staffID})
			gomega.Expect(status).To(gomega.Equal(http.StatusForbidden))
			gomega.Expect(body).To(gomega.HaveKeyWithValue("error", "invalid_csrf_token"))

			c.csrf = login["csrf_token"].(string)
			status, body = c.do(http.MethodPost, "/auth/invitations", map[string]interface{}{"email": "n@example.com", "role_id": f.staffID})
			gomega.Expect(status).To(gomega.Equal(http.StatusOK))
			gomega.Expect(body["invitation_token"]).To(gomega.HaveLen(48))
			gomega.Expect(body).NotTo(gomega.HaveKey("user_id"))

			status, body = c.do(http.MethodPost, "/auth/invitations", map[string]interface{}{"email": "n@example.com", "role_id": f.staffID})
			gomega.Expect(status).To(gomega.Equal(http.StatusConflict))
			gomega.Expect(body).To(gomega.HaveKeyWithValue("error", "email_taken"))

			status, body = c.do(http.MethodPost, "/auth/invitations", map[string]interface{}{"email": "z@example.com", "role_id": 999})
			gomega.Expect(status).To(gomega.Equal(http.StatusBadRequest))
			gomega.Expect(body).To(gomega.HaveKeyWithValue("error", "invalid_request"))

			status, _ = c.do(http.MethodPost, "/auth/invitations", map[string]interface{}{"email": "not-an-email", "role_id": f.staffID})
			gomega.Expect(status).To(gomega.Equal(http.StatusBadRequest))
		})

		ginkgo.It("runs the whole lifecycle for a bearer caller", func() {
			f.addUser("admin@example.com", "s3cret", f.adminID, auth.StatusActive)
			_, login := newClient().do(http.MethodPost, "/auth/login", map[string]string{"email": "admin@example.com", "password": "s3cret"})

			admin := newClient()
			admin.bearer = login["token"].(string)
			status, inv := admin.do(http.MethodPost, "/auth/invitations", map[string]interface{}{"email": "new@example.com", "name": "New", "role_id": f.staffID})
			gomega.Expect(status).To(gomega.Equal(http.StatusOK))
			token := inv["invitation_token"].(string)

			guest := newClient()
			status, body := guest.do(http.MethodPost, "/auth/invitations/accept", map[string]string{"token": "nope", "password": "pw"})
			gomega.Expect(status).To(gomega.Equal(http.StatusBadRequest))
			gomega.Expect(body).To(gomega.HaveKeyWithValue("error", "invalid_invitation"))

			status, body = guest.do(http.MethodPost, "/auth/invitations/accept", map[string]string{"token": token, "password": "pw"})
			gomega.Expect(status).To(gomega.Equal(http.StatusOK))
			gomega.Expect(body).To(gomega.HaveKeyWithValue("status", "accepted"))

			status, _ = guest.do(http.MethodPost, "/auth/invitations/accept", map[string]string{"token": token, "password": "pw"})
			gomega.Expect(status).To(gomega.Equal(http.StatusBadRequest))

			status, _ = guest.do(http.MethodPost, "/auth/login", map[string]string{"email": "new@example.com", "password": "pw"})
			gomega.Expect(status).To(gomega.Equal(http.StatusOK))
		})
	})

	ginkgo.Describe("password reset", func() {
		ginkgo.It("issues and spends a reset token", func() {
			f.addUser("admin@example.com", "old", f.adminID, auth.StatusActive)
			c := newClient()

			status, body := c.do(http.MethodPost, "/auth/password/reset", map[string]string{"email": "ghost@example.com"})
			gomega.Expect(status).To(gomega.Equal(http.StatusNotFound))
			gomega.Expect(body).To(gomega.HaveKeyWithValue("error", "not_found"))

			status, body = c.do(http.MethodPost, "/auth/password/reset", map[string]string{"email": "admin@example.com"})
			gomega.Expect(status).To(gomega.Equal(http.StatusOK))
			token := body["reset_token"].(string)

			status, body = c.do(http.MethodPost, "/auth/password/complete", map[string]string{"token": token, "password": "new"})
			gomega.Expect(status).To(gomega.Equal(http.StatusOK))
			gomega.Expect(body).To(gomega.HaveKeyWithValue("status", "password_reset"))

			status, body = c.do(http.MethodPost, "/auth/password/complete", map[string]string{"token": token, "password": "newer"})
			gomega.Expect(status).To(gomega.Equal(http.StatusBadRequest))
			gomega.Expect(body).To(gomega.HaveKeyWithValue("error", "invalid_token"))
		})
	})

	ginkgo.It("issues CSRF tokens per action", func() {
		c := newClient()
		status, body := c.do(http.MethodGet, "/auth/csrf?action=estimate_save", nil)
		gomega.Expect(status).To(gomega.Equal(http.StatusOK))
		gomega.Expect(body["csrf_token"]).To(gomega.HaveLen(64))
	})
})
