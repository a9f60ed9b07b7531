// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package plugin_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/marktime/internal/plugin"
	"github.com/holomush/marktime/internal/prefs"
	"github.com/holomush/marktime/internal/prefs/store"
	"github.com/holomush/marktime/internal/sandbox"
)

const counterPlugin = `
local prefs = marktime("preferences")
local runs = prefs:maybe("runs", 0) + 1
prefs:set("runs", runs)

API("counter"):on_use(function(consumer)
	return {
		runs = runs,
		bump = function(n)
			prefs:set("bumped", (prefs:get("bumped") or 0) + n)
			return prefs:get("bumped")
		end,
	}
end)
`

const reporterPlugin = `
local counter = ...
local c = counter("counter")
counter.config():set("seen_runs", c.runs)
`

// session is one host lifetime over the same directory and database.
type session struct {
	db   *store.SQLite
	root *prefs.Root
	host *plugin.Host
}

func openSession(ctx context.Context, dir string) *session {
	db, err := store.OpenSQLite(ctx, filepath.Join(dir, "prefs.db"))
	Expect(err).NotTo(HaveOccurred())
	root := prefs.NewRoot(db, prefs.WithAutosaveInterval(0))
	Expect(root.Load(ctx)).To(Succeed())
	host := plugin.NewHost(root, plugin.NewFSSource(os.DirFS(dir)))
	return &session{db: db, root: root, host: host}
}

func (s *session) close(ctx context.Context) {
	Expect(s.host.Close(ctx)).To(Succeed())
	Expect(s.root.Close(ctx)).To(Succeed())
	Expect(s.db.Close()).To(Succeed())
}

func writePlugin(dir, name, manifest, code string) {
	folder := filepath.Join(dir, "plugins", name)
	Expect(os.MkdirAll(folder, 0o750)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(folder, "plugin.yaml"), []byte(manifest), 0o600)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(folder, "main.lua"), []byte(code), 0o600)).To(Succeed())
}

var _ = Describe("Plugin host over SQLite preferences", func() {
	var (
		ctx context.Context
		dir string
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		writePlugin(dir, "counter", "name: counter\nversion: 2.1.0\n", counterPlugin)
		writePlugin(dir, "reporter", "name: reporter\ndependencies:\n  counter: \"^2\"\n", reporterPlugin)
	})

	It("keeps installed plugins and their preferences across restarts", func() {
		first := openSession(ctx, dir)
		Expect(first.host.Install(ctx, "reporter")).To(Succeed())
		Expect(first.host.Install(ctx, "counter")).To(Succeed())
		Expect(first.host.Initialize(ctx)).To(Succeed())
		Expect(first.host.LoadOrder()).To(Equal([]string{"counter", "reporter"}))

		v, err := first.host.GetCapability(ctx, "counter", "counter")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(HaveKeyWithValue("runs", BeNumerically("==", 1)))
		first.close(ctx)

		second := openSession(ctx, dir)
		defer second.close(ctx)
		names, err := second.host.InstalledPlugins(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(Equal([]string{"reporter", "counter"}))
		Expect(second.host.Initialize(ctx)).To(Succeed())
		Expect(second.host.Ready()).To(BeTrue())

		core, err := second.root.Dictionary(ctx, plugin.CoreName, prefs.ReadOnly)
		Expect(err).NotTo(HaveOccurred())
		Expect(core.Get("plugin.config.reporter.seen_runs")).To(BeNumerically("==", 2))
	})

	It("runs capability callbacks inside the provider's sandbox", func() {
		s := openSession(ctx, dir)
		defer s.close(ctx)
		Expect(s.host.Install(ctx, "counter")).To(Succeed())
		Expect(s.host.Initialize(ctx)).To(Succeed())

		v, err := s.host.GetCapability(ctx, "counter", "counter")
		Expect(err).NotTo(HaveOccurred())
		bump, ok := v.(map[string]any)["bump"].(sandbox.Func)
		Expect(ok).To(BeTrue(), "bump is a host function")
		out, err := bump(ctx, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ConsistOf(BeNumerically("==", 3)))

		counter, err := s.root.Dictionary(ctx, "counter", prefs.ReadOnly)
		Expect(err).NotTo(HaveOccurred())
		Expect(counter.Get("bumped")).To(BeNumerically("==", 3))
	})

	It("refuses a dependency whose version does not match", func() {
		writePlugin(dir, "counter", "name: counter\nversion: 3.0.0\n", counterPlugin)
		s := openSession(ctx, dir)
		defer s.close(ctx)
		Expect(s.host.Install(ctx, "counter")).To(Succeed())
		Expect(s.host.Install(ctx, "reporter")).To(Succeed())

		err := s.host.Initialize(ctx)
		Expect(err).To(MatchError(plugin.ErrDependencyVersion))
		Expect(s.host.Ready()).To(BeFalse())
	})
})
