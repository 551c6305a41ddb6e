package auth_test

import (
	"context"
	"errors"

	"github.com/frahmantamala/repairshop/internal/auth"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

type stubChecker struct {
	grants map[int64][]string
	err    error
	calls  int
}

func (s *stubChecker) HasCapability(_ context.Context, roleID int64, capability string) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	for _, c := range s.grants[roleID] {
		if c == capability {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubChecker) Capabilities(_ context.Context, roleID int64) ([]string, error) {
	return s.grants[roleID], s.err
}

var _ = ginkgo.Describe("Authorization", func() {
	var (
		ctx     context.Context
		checker *stubChecker
		authz   *auth.Authorization
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		checker = &stubChecker{grants: map[int64][]string{1: {"manage_options"}}}
		authz = auth.NewAuthorization(checker, nil)
	})

	ginkgo.It("denies without a current user and never asks storage", func() {
		ok, err := authz.Can(ctx, auth.CapManageOptions)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(ok).To(gomega.BeFalse())
		gomega.Expect(checker.calls).To(gomega.BeZero())
	})

	ginkgo.It("asks storage on every call", func() {
		authz.SetCurrentUser(&auth.User{ID: 5, RoleID: 1})
		for i := 0; i < 3; i++ {
			ok, err := authz.Can(ctx, auth.CapManageOptions)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeTrue())
		}
		gomega.Expect(checker.calls).To(gomega.Equal(3))

		ok, err := authz.Can(ctx, auth.CapViewReports)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(ok).To(gomega.BeFalse())
	})

	ginkgo.It("fails closed on a storage error", func() {
		checker.err = errors.New("db down")
		authz.SetCurrentUser(&auth.User{ID: 5, RoleID: 1})
		ok, err := authz.Can(ctx, auth.CapManageOptions)
		gomega.Expect(err).To(gomega.HaveOccurred())
		gomega.Expect(ok).To(gomega.BeFalse())
	})

	ginkgo.It("still evaluates unregistered capabilities", func() {
		checker.grants[1] = append(checker.grants[1], "legacy_cap")
		authz.SetCurrentUser(&auth.User{ID: 5, RoleID: 1})
		ok, err := authz.Can(ctx, auth.Capability("legacy_cap"))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(ok).To(gomega.BeTrue())
	})

	ginkgo.It("clears the principal with nil", func() {
		authz.SetCurrentUser(&auth.User{ID: 5, RoleID: 1})
		authz.SetCurrentUser(nil)
		gomega.Expect(authz.User()).To(gomega.BeNil())
		caps, err := authz.Capabilities(ctx)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(caps).To(gomega.BeEmpty())
	})
})

var _ = ginkgo.Describe("capability registry", func() {
	ginkgo.It("knows the built-in capabilities", func() {
		c, ok := auth.Lookup("manage_options")
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(c).To(gomega.Equal(auth.CapManageOptions))

		_, ok = auth.Lookup("manage_optoins")
		gomega.Expect(ok).To(gomega.BeFalse())
	})

	ginkgo.It("registers new capabilities and lists them sorted", func() {
		auth.Register("edit_appointments")
		gomega.Expect(auth.IsRegistered("edit_appointments")).To(gomega.BeTrue())

		all := auth.Registered()
		gomega.Expect(all).To(gomega.ContainElement(auth.Capability("edit_appointments")))
		for i := 1; i < len(all); i++ {
			gomega.Expect(all[i-1] < all[i]).To(gomega.BeTrue())
		}
	})
})
