package ingest_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
	"github.com/m3n3sx/faktulove3-sub000/internal/ingest"
)

var _ = Describe("Inbox watcher", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		root   string
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(cancel)
		root = GinkgoT().TempDir()
	})

	It("emits existing files first and skips hidden and foreign ones", func() {
		Expect(os.WriteFile(filepath.Join(root, "a.pdf"), pdf("a"), 0o600)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(root, ".b.pdf"), pdf("b"), 0o600)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o600)).To(Succeed())

		events, _, err := ingest.StartWatcher(ctx, ingest.WatchConfig{Roots: []string{root}, InitialScan: true}, discard)
		Expect(err).NotTo(HaveOccurred())
		Eventually(events).Should(Receive(Equal(filepath.Join(root, "a.pdf"))))
		Consistently(events, 100*time.Millisecond).ShouldNot(Receive())
	})

	It("picks up files in directories created after the start", func() {
		events, _, err := ingest.StartWatcher(ctx, ingest.WatchConfig{Roots: []string{root}, Debounce: 20 * time.Millisecond}, discard)
		Expect(err).NotTo(HaveOccurred())

		sub := filepath.Join(root, "2024-05")
		Expect(os.Mkdir(sub, 0o700)).To(Succeed())
		// Give the watcher a moment to register the new directory.
		time.Sleep(50 * time.Millisecond)
		Expect(os.WriteFile(filepath.Join(sub, "fv.png"), []byte("\x89PNG\r\n\x1a\n"), 0o600)).To(Succeed())

		Eventually(events, 2*time.Second).Should(Receive(Equal(filepath.Join(sub, "fv.png"))))
	})

	It("refuses to start without roots", func() {
		_, _, err := ingest.StartWatcher(ctx, ingest.WatchConfig{}, discard)
		Expect(err).To(HaveOccurred())
	})

	It("submits dropped files for the inbox owner", func() {
		e := newEnv(nil, ingest.Options{})
		owner := uuid.New()
		done := make(chan error, 1)
		go func() {
			done <- e.svc.WatchInbox(ctx, owner, ingest.WatchConfig{Roots: []string{root}, Debounce: 20 * time.Millisecond})
		}()
		time.Sleep(50 * time.Millisecond)
		Expect(os.WriteFile(filepath.Join(root, "fv-7.pdf"), pdf("inbox"), 0o600)).To(Succeed())

		Eventually(func() []*entity.Document {
			docs, err := e.store.Documents.ListByOwner(ctx, owner, 0)
			Expect(err).NotTo(HaveOccurred())
			return docs
		}, 3*time.Second).Should(ContainElement(HaveField("Status", constants.StatusMaterialized)))

		cancel()
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
	})
})
