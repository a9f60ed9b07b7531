// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/marktime/internal/prefs/store"
)

var _ = Describe("Postgres record store", func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		dsn       string
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("marktime_test"),
			postgres.WithUsername("marktime"),
			postgres.WithPassword("marktime"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = container.Terminate(ctx)
	})

	It("reports a missing schema until migrated", func() {
		s, err := store.Open(ctx, dsn)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = s.Close() }()

		_, err = s.List(ctx)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("prefs"))

		m, err := store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Up()).To(Succeed())
		version, dirty, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))
		Expect(dirty).To(BeFalse())
		Expect(m.Close()).To(Succeed())

		records, err := s.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(BeEmpty())
	})

	It("stores, updates and deletes records", func() {
		m, err := store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Up()).To(Succeed())
		Expect(m.Close()).To(Succeed())

		s, err := store.Open(ctx, dsn)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = s.Close() }()

		first, err := s.Insert(ctx, "notes", []byte(`{"a":1}`))
		Expect(err).NotTo(HaveOccurred())
		second, err := s.Insert(ctx, "notes", []byte(`{"b":2}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(BeNumerically(">", first))

		Expect(s.Update(ctx, first, []byte(`{"a":5}`))).To(Succeed())
		Expect(s.Delete(ctx, second)).To(Succeed())

		records, err := s.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(records[0].Plugin).To(Equal("notes"))
		Expect(string(records[0].Props)).To(MatchJSON(`{"a":5}`))

		Expect(s.Update(ctx, second, []byte(`{}`))).To(MatchError(store.ErrNotFound))
	})
})
