package auth_test

import (
	"strings"
	"time"

	"github.com/frahmantamala/repairshop/internal/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

var _ = ginkgo.Describe("TokenCodec", func() {
	var (
		now   time.Time
		codec *auth.TokenCodec
	)

	ginkgo.BeforeEach(func() {
		now = time.Date(2024, 7, 2, 10, 0, 0, 0, time.UTC)
		codec = auth.NewTokenCodec("secret", auth.WithTokenClock(func() time.Time { return now }))
	})

	ginkgo.It("round-trips claims and fills iat, exp and jti", func() {
		tok, err := codec.Encode(auth.Claims{Role: "admin", RegisteredClaims: subjectClaims(7)})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		claims, err := codec.Decode(tok)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(claims.Role).To(gomega.Equal("admin"))
		id, ok := claims.UserID()
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(id).To(gomega.Equal(int64(7)))
		gomega.Expect(claims.ID).To(gomega.HaveLen(26))
		gomega.Expect(claims.IssuedAt.Time.Before(claims.ExpiresAt.Time)).To(gomega.BeTrue())
		gomega.Expect(claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time)).To(gomega.Equal(auth.DefaultTokenTTL))
	})

	ginkgo.It("keeps an exp set by the caller", func() {
		exp := now.Add(10 * time.Minute)
		c := subjectClaims(1)
		c.ExpiresAt = jwt.NewNumericDate(exp)
		tok, err := codec.Encode(auth.Claims{RegisteredClaims: c})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		claims, err := codec.Decode(tok)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(claims.ExpiresAt.Time.Unix()).To(gomega.Equal(exp.Unix()))
	})

	ginkgo.It("rejects an expired token", func() {
		tok, err := codec.Encode(auth.Claims{RegisteredClaims: subjectClaims(1)})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		now = now.Add(auth.DefaultTokenTTL + time.Second)
		_, err = codec.Decode(tok)
		gomega.Expect(err).To(gomega.MatchError(auth.ErrTokenExpired))
	})

	ginkgo.It("accepts a token up to and including its exp second", func() {
		tok, err := codec.Encode(auth.Claims{RegisteredClaims: subjectClaims(1)})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		now = now.Add(auth.DefaultTokenTTL)
		_, err = codec.Decode(tok)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		now = now.Add(time.Second)
		_, err = codec.Decode(tok)
		gomega.Expect(err).To(gomega.MatchError(auth.ErrTokenExpired))
	})

	ginkgo.It("rejects a tampered signature", func() {
		tok, err := codec.Encode(auth.Claims{RegisteredClaims: subjectClaims(1)})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		parts := strings.Split(tok, ".")
		sig := []byte(parts[2])
		if sig[0] == 'A' {
			sig[0] = 'B'
		} else {
			sig[0] = 'A'
		}
		tampered := parts[0] + "." + parts[1] + "." + string(sig)

		_, err = codec.Decode(tampered)
		gomega.Expect(err).To(gomega.MatchError(auth.ErrInvalidToken))
	})

	ginkgo.It("rejects a token signed with another secret", func() {
		other := auth.NewTokenCodec("other", auth.WithTokenClock(func() time.Time { return now }))
		tok, err := other.Encode(auth.Claims{RegisteredClaims: subjectClaims(1)})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		_, err = codec.Decode(tok)
		gomega.Expect(err).To(gomega.MatchError(auth.ErrInvalidToken))
	})

	ginkgo.It("rejects the none algorithm", func() {
		c := subjectClaims(1)
		c.ExpiresAt = jwt.NewNumericDate(now.Add(time.Hour))
		tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, c).SignedString(jwt.UnsafeAllowNoneSignatureType)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		_, err = codec.Decode(tok)
		gomega.Expect(err).To(gomega.MatchError(auth.ErrInvalidToken))
	})

	ginkgo.It("rejects garbage", func() {
		_, err := codec.Decode("not.a.token")
		gomega.Expect(err).To(gomega.MatchError(auth.ErrInvalidToken))
	})

	ginkgo.It("honours a custom TTL", func() {
		short := auth.NewTokenCodec("secret", auth.WithTokenTTL(time.Minute), auth.WithTokenClock(func() time.Time { return now }))
		gomega.Expect(short.TTL()).To(gomega.Equal(time.Minute))
	})
})
