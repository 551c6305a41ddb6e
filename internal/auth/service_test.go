package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	"github.com/frahmantamala/repairshop/internal/auth"
	"github.com/frahmantamala/repairshop/internal/core/events"
	"github.com/frahmantamala/repairshop/internal/session"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

func newSession() *session.Session {
	s, err := session.New()
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return s
}

var _ = ginkgo.Describe("Service", func() {
	var (
		f   *fixture
		ctx context.Context
	)

	ginkgo.BeforeEach(func() {
		f = newFixture()
		ctx = context.Background()
	})

	ginkgo.AfterEach(func() {
		f.close()
	})

	ginkgo.Describe("Login", func() {
		ginkgo.It("returns a decodable token whose subject is the user id", func() {
			// Given an active admin
			u := f.addUser("admin@example.com", "s3cret", f.adminID, auth.StatusActive)
			sess := newSession()
			svc := f.service(auth.Request{Session: sess, Secure: true})

			// When logging in with mixed-case email
			res, err := svc.Login(ctx, "  Admin@Example.com ", "s3cret")

			// Then a token, CSRF token and redacted user come back
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(res).NotTo(gomega.BeNil())
			claims, err := f.deps.Tokens.Decode(res.Token)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(claims.Subject).To(gomega.Equal(strconv.FormatInt(u.ID, 10)))
			gomega.Expect(claims.Role).To(gomega.Equal("admin"))
			gomega.Expect(res.User).To(gomega.Equal(&auth.PublicUser{
				ID: u.ID, Email: u.Email, Name: u.Name, Role: "admin", Status: auth.StatusActive,
			}))

			raw, err := json.Marshal(res)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(string(raw)).NotTo(gomega.ContainSubstring("password"))

			// And the session and CSRF token are established
			id, ok := sess.Get("arm_user_id")
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(id).To(gomega.Equal(strconv.FormatInt(u.ID, 10)))
			role, _ := sess.Get("arm_user_role")
			gomega.Expect(role).To(gomega.Equal("admin"))
			gomega.Expect(svc.CSRF().Verify(res.CSRFToken, auth.DefaultCSRFAction)).To(gomega.BeTrue())
			gomega.Expect(svc.CurrentUser().ID).To(gomega.Equal(u.ID))
			gomega.Expect(svc.Channel()).To(gomega.Equal(auth.ChannelSession))

			// And a two hour HttpOnly cookie carries the token
			cookies := svc.Cookies()
			gomega.Expect(cookies).To(gomega.HaveLen(1))
			c := cookies[0]
			gomega.Expect(c.Name).To(gomega.Equal(auth.SessionCookieName))
			gomega.Expect(c.Value).To(gomega.Equal(res.Token))
			gomega.Expect(c.HttpOnly).To(gomega.BeTrue())
			gomega.Expect(c.Secure).To(gomega.BeTrue())
			gomega.Expect(c.SameSite).To(gomega.Equal(http.SameSiteLaxMode))
			gomega.Expect(c.Expires).To(gomega.BeTemporally("==", f.now.Add(2*time.Hour)))

			gomega.Expect(f.events.last().Type).To(gomega.Equal(events.EventTypeLogin))
			gomega.Expect(f.events.last().Outcome).To(gomega.Equal(events.OutcomeSuccess))
		})

		ginkgo.It("logs in a user created with a mixed-case email", func() {
			u := f.addUser("Owner@Shop.test", "s3cret", f.adminID, auth.StatusActive)
			gomega.Expect(u.Email).To(gomega.Equal("owner@shop.test"))
			svc := f.service(auth.Request{Session: newSession()})

			res, err := svc.Login(ctx, "Owner@Shop.test", "s3cret")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(res).NotTo(gomega.BeNil())
			gomega.Expect(res.User.ID).To(gomega.Equal(u.ID))

			token, err := svc.RequestPasswordReset(ctx, "OWNER@shop.test")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(token).NotTo(gomega.BeEmpty())
		})

		ginkgo.It("rotates the session id", func() {
			f.addUser("admin@example.com", "s3cret", f.adminID, auth.StatusActive)
			sess := newSession()
			before := sess.ID()
			svc := f.service(auth.Request{Session: sess})

			_, err := svc.Login(ctx, "admin@example.com", "s3cret")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(sess.ID()).NotTo(gomega.Equal(before))
		})

		ginkgo.It("rejects a disabled user even with the right password", func() {
			f.addUser("gone@example.com", "s3cret", f.adminID, auth.StatusDisabled)
			svc := f.service(auth.Request{Session: newSession()})

			for _, pw := range []string{"s3cret", "wrong"} {
				res, err := svc.Login(ctx, "gone@example.com", pw)
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(res).To(gomega.BeNil())
			}
			gomega.Expect(svc.CurrentUser()).To(gomega.BeNil())
			gomega.Expect(svc.Cookies()).To(gomega.BeEmpty())
		})

		ginkgo.It("rejects a wrong password, an unknown email and empty input", func() {
			f.addUser("admin@example.com", "s3cret", f.adminID, auth.StatusActive)
			svc := f.service(auth.Request{Session: newSession()})

			for _, creds := range [][2]string{
				{"admin@example.com", "nope"},
				{"nobody@example.com", "s3cret"},
				{"", ""},
			} {
				res, err := svc.Login(ctx, creds[0], creds[1])
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(res).To(gomega.BeNil())
			}
			gomega.Expect(f.events.last().Outcome).To(gomega.Equal(events.OutcomeFailure))
		})

		ginkgo.It("cannot log in to an invited account", func() {
			svc := f.service(auth.Request{Session: newSession()})
			_, err := svc.InviteUser(ctx, "new@example.com", "", f.staffID, nil)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			res, err := svc.Login(ctx, "new@example.com", "guess")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(res).To(gomega.BeNil())
		})
	})

	ginkgo.Describe("principal resolution", func() {
		var u *auth.User

		ginkgo.BeforeEach(func() {
			u = f.addUser("admin@example.com", "s3cret", f.adminID, auth.StatusActive)
		})

		token := func(userID int64) string {
			tok, err := f.deps.Tokens.Encode(auth.Claims{
				Role:             "admin",
				RegisteredClaims: subjectClaims(userID),
			})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			return tok
		}

		ginkgo.It("prefers the session user id", func() {
			other := f.addUser("staff@example.com", "pw", f.staffID, auth.StatusActive)
			sess := newSession()
			sess.Set("arm_user_id", strconv.FormatInt(other.ID, 10))

			svc := f.service(auth.Request{Session: sess, BearerToken: token(u.ID)})
			gomega.Expect(svc.CurrentUser().ID).To(gomega.Equal(other.ID))
			gomega.Expect(svc.Channel()).To(gomega.Equal(auth.ChannelSession))
		})

		ginkgo.It("falls back to the bearer token, then the cookie", func() {
			other := f.addUser("staff@example.com", "pw", f.staffID, auth.StatusActive)

			svc := f.service(auth.Request{BearerToken: token(u.ID), CookieToken: token(other.ID)})
			gomega.Expect(svc.CurrentUser().ID).To(gomega.Equal(u.ID))
			gomega.Expect(svc.Channel()).To(gomega.Equal(auth.ChannelBearer))

			svc = f.service(auth.Request{CookieToken: token(other.ID)})
			gomega.Expect(svc.CurrentUser().ID).To(gomega.Equal(other.ID))
			gomega.Expect(svc.Channel()).To(gomega.Equal(auth.ChannelCookie))
		})

		ginkgo.It("is unauthenticated for expired, forged or orphaned tokens", func() {
			expired := token(u.ID)
			forged := token(u.ID) + "x"
			orphan := token(u.ID + 1000)
			f.now = f.now.Add(3 * time.Hour)

			for _, tok := range []string{expired, forged, orphan, "garbage"} {
				svc := f.service(auth.Request{BearerToken: tok})
				gomega.Expect(svc.CurrentUser()).To(gomega.BeNil())
				gomega.Expect(svc.Channel()).To(gomega.Equal(auth.ChannelNone))
			}
		})

		ginkgo.It("ignores credentials of a disabled user", func() {
			d := f.addUser("off@example.com", "pw", f.adminID, auth.StatusDisabled)
			svc := f.service(auth.Request{BearerToken: token(d.ID)})
			gomega.Expect(svc.CurrentUser()).To(gomega.BeNil())
		})
	})

	ginkgo.Describe("Logout", func() {
		ginkgo.It("clears the session principal and expires the cookie", func() {
			u := f.addUser("admin@example.com", "s3cret", f.adminID, auth.StatusActive)
			sess := newSession()
			svc := f.service(auth.Request{Session: sess})
			res, err := svc.Login(ctx, "admin@example.com", "s3cret")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			loggedInID := sess.ID()

			next := f.service(auth.Request{Session: sess})
			gomega.Expect(next.CurrentUser().ID).To(gomega.Equal(u.ID))
			gomega.Expect(next.Logout(ctx)).To(gomega.Succeed())

			_, ok := sess.Get("arm_user_id")
			gomega.Expect(ok).To(gomega.BeFalse())
			gomega.Expect(sess.ID()).NotTo(gomega.Equal(loggedInID))
			gomega.Expect(next.CurrentUser()).To(gomega.BeNil())

			cookies := next.Cookies()
			gomega.Expect(cookies).To(gomega.HaveLen(1))
			gomega.Expect(cookies[0].MaxAge).To(gomega.BeNumerically("<", 0))
			gomega.Expect(cookies[0].Expires.Before(f.now)).To(gomega.BeTrue())

			// the signed token itself is still valid until exp
			after := f.service(auth.Request{BearerToken: res.Token})
			gomega.Expect(after.CurrentUser().ID).To(gomega.Equal(u.ID))
		})
	})

	ginkgo.Describe("invitations", func() {
		ginkgo.It("accepts the right token exactly once", func() {
			svc := f.service(auth.Request{})
			inv, err := svc.InviteUser(ctx, "New@Example.com", "", f.staffID, nil)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(inv.InvitationToken).To(gomega.HaveLen(48))

			invited, err := f.repo.FindUserByEmail(ctx, "new@example.com")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(invited.Status).To(gomega.Equal(auth.StatusInvited))
			gomega.Expect(invited.Name).To(gomega.Equal("new@example.com"))

			ok, err := svc.AcceptInvitation(ctx, "wrong-token", "pw1")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeFalse())

			ok, err = svc.AcceptInvitation(ctx, inv.InvitationToken, "pw1")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeTrue())

			ok, err = svc.AcceptInvitation(ctx, inv.InvitationToken, "pw2")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeFalse())

			res, err := svc.Login(ctx, "new@example.com", "pw1")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(res).NotTo(gomega.BeNil())
			gomega.Expect(res.User.Status).To(gomega.Equal(auth.StatusActive))
		})

		ginkgo.It("records who invited", func() {
			admin := f.addUser("admin@example.com", "s3cret", f.adminID, auth.StatusActive)
			svc := f.service(auth.Request{})
			_, err := svc.InviteUser(ctx, "new@example.com", "New", f.staffID, &admin.ID)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			invited, err := f.repo.FindUserByEmail(ctx, "new@example.com")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(invited.InvitedBy).NotTo(gomega.BeNil())
			gomega.Expect(*invited.InvitedBy).To(gomega.Equal(admin.ID))
		})

		ginkgo.It("refuses a taken email and an unknown role", func() {
			f.addUser("admin@example.com", "s3cret", f.adminID, auth.StatusActive)
			svc := f.service(auth.Request{})

			_, err := svc.InviteUser(ctx, "admin@example.com", "", f.staffID, nil)
			gomega.Expect(err).To(gomega.MatchError(auth.ErrEmailTaken))

			_, err = svc.InviteUser(ctx, "x@example.com", "", 9999, nil)
			gomega.Expect(err).To(gomega.MatchError(auth.ErrRoleNotFound))
		})
	})

	ginkgo.Describe("password reset", func() {
		var u *auth.User

		ginkgo.BeforeEach(func() {
			u = f.addUser("admin@example.com", "old", f.adminID, auth.StatusActive)
		})

		ginkgo.It("returns no token for an unknown email", func() {
			svc := f.service(auth.Request{})
			tok, err := svc.RequestPasswordReset(ctx, "nobody@example.com")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(tok).To(gomega.BeEmpty())
		})

		ginkgo.It("resets once with a live token", func() {
			svc := f.service(auth.Request{})
			tok, err := svc.RequestPasswordReset(ctx, "admin@example.com")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(tok).To(gomega.HaveLen(48))

			f.now = f.now.Add(59 * time.Minute)
			ok, err := svc.ResetPassword(ctx, tok, "new")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeTrue())

			ok, err = svc.ResetPassword(ctx, tok, "newer")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeFalse())

			res, err := svc.Login(ctx, "admin@example.com", "new")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(res).NotTo(gomega.BeNil())
			gomega.Expect(res.User.ID).To(gomega.Equal(u.ID))
		})

		ginkgo.It("rejects a token after an hour", func() {
			svc := f.service(auth.Request{})
			tok, err := svc.RequestPasswordReset(ctx, "admin@example.com")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			f.now = f.now.Add(61 * time.Minute)
			ok, err := svc.ResetPassword(ctx, tok, "new")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeFalse())
		})

		ginkgo.It("replaces an outstanding token", func() {
			svc := f.service(auth.Request{})
			first, err := svc.RequestPasswordReset(ctx, "admin@example.com")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			second, err := svc.RequestPasswordReset(ctx, "admin@example.com")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(second).NotTo(gomega.Equal(first))

			ok, err := svc.ResetPassword(ctx, first, "new")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeFalse())

			ok, err = svc.ResetPassword(ctx, second, "new")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeTrue())
		})

		ginkgo.It("activates a disabled account", func() {
			d := f.addUser("off@example.com", "old", f.adminID, auth.StatusDisabled)
			svc := f.service(auth.Request{})
			tok, err := svc.RequestPasswordReset(ctx, "off@example.com")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			ok, err := svc.ResetPassword(ctx, tok, "new")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeTrue())

			got, err := f.repo.FindUserByID(ctx, d.ID)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(got.Status).To(gomega.Equal(auth.StatusActive))
		})
	})

	ginkgo.Describe("capabilities", func() {
		ginkgo.It("denies without a principal", func() {
			svc := f.service(auth.Request{})
			ok, err := svc.Can(ctx, auth.CapManageOptions)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeFalse())
		})

		ginkgo.It("allows iff the role holds the capability", func() {
			f.addUser("admin@example.com", "pw", f.adminID, auth.StatusActive)
			f.addUser("staff@example.com", "pw", f.staffID, auth.StatusActive)

			admin := f.service(auth.Request{Session: newSession()})
			_, err := admin.Login(ctx, "admin@example.com", "pw")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			ok, err := admin.Can(ctx, auth.CapManageOptions)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeTrue())
			ok, err = admin.Can(ctx, auth.CapEditInvoices)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeFalse())

			staff := f.service(auth.Request{Session: newSession()})
			_, err = staff.Login(ctx, "staff@example.com", "pw")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			ok, err = staff.Can(ctx, auth.CapManageOptions)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeFalse())

			// grants are read on every check
			gomega.Expect(f.repo.GrantCapability(ctx, f.staffID, string(auth.CapManageOptions))).To(gomega.Succeed())
			ok, err = staff.Can(ctx, auth.CapManageOptions)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeTrue())
		})

		ginkgo.It("GuardCapability writes a 403 body", func() {
			f.addUser("staff@example.com", "pw", f.staffID, auth.StatusActive)
			svc := f.service(auth.Request{Session: newSession()})
			_, err := svc.Login(ctx, "staff@example.com", "pw")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			rec := httptest.NewRecorder()
			gomega.Expect(svc.GuardCapability(ctx, rec, auth.CapManageOptions)).To(gomega.BeFalse())
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusForbidden))
			gomega.Expect(rec.Body.String()).To(gomega.ContainSubstring(`"error":"forbidden"`))
		})
	})
})
