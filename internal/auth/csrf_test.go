package auth_test

import (
	"time"

	"github.com/frahmantamala/repairshop/internal/auth"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

var _ = ginkgo.Describe("CSRFManager", func() {
	var (
		now time.Time
		m   *auth.CSRFManager
	)

	ginkgo.BeforeEach(func() {
		now = time.Date(2024, 7, 2, 10, 0, 0, 0, time.UTC)
		m = auth.NewCSRFManager(newSession(), time.Hour, func() time.Time { return now })
	})

	ginkgo.It("verifies the latest token for its action only", func() {
		tok, err := m.Issue("default")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(tok).To(gomega.HaveLen(64))

		gomega.Expect(m.Verify(tok, "default")).To(gomega.BeTrue())
		gomega.Expect(m.Verify(tok, "default")).To(gomega.BeTrue())
		gomega.Expect(m.Verify(tok, "other")).To(gomega.BeFalse())
		gomega.Expect(m.Verify(tok+"0", "default")).To(gomega.BeFalse())
	})

	ginkgo.It("treats an empty action as default", func() {
		tok, err := m.Issue("")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(m.Verify(tok, auth.DefaultCSRFAction)).To(gomega.BeTrue())
	})

	ginkgo.It("invalidates the previous token on reissue", func() {
		first, err := m.Issue("default")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		second, err := m.Issue("default")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		gomega.Expect(m.Verify(first, "default")).To(gomega.BeFalse())
		gomega.Expect(m.Verify(second, "default")).To(gomega.BeTrue())
	})

	ginkgo.It("expires tokens", func() {
		tok, err := m.Issue("default")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		now = now.Add(time.Hour)
		gomega.Expect(m.Verify(tok, "default")).To(gomega.BeTrue())
		now = now.Add(time.Second)
		gomega.Expect(m.Verify(tok, "default")).To(gomega.BeFalse())
		now = now.Add(-time.Hour)
		gomega.Expect(m.Verify(tok, "default")).To(gomega.BeFalse())
	})

	ginkgo.It("never verifies an empty token", func() {
		gomega.Expect(m.Verify("", "default")).To(gomega.BeFalse())
		_, err := m.Issue("default")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(m.Verify("", "default")).To(gomega.BeFalse())
	})

	ginkgo.It("defaults to a one hour lifetime", func() {
		m = auth.NewCSRFManager(newSession(), 0, func() time.Time { return now })
		tok, err := m.Issue("default")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		now = now.Add(3600 * time.Second)
		gomega.Expect(m.Verify(tok, "default")).To(gomega.BeTrue())
		now = now.Add(time.Second)
		gomega.Expect(m.Verify(tok, "default")).To(gomega.BeFalse())
	})
})
