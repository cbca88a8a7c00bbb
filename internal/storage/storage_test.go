package storage_test

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/storage"
)

var _ = Describe("Key", func() {
	It("shards by the hash prefix", func() {
		Expect(storage.Key("owner", "abcdef", ".PDF")).To(Equal("owner/ab/abcdef.pdf"))
		Expect(storage.Key("owner", "a", "")).To(Equal("owner/a/a"))
	})
})

// behaves runs the shared contract against one backend.
func behaves(newStore func() storage.Store) {
	var (
		ctx context.Context
		s   storage.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = newStore()
	})

	It("round-trips a blob", func() {
		Expect(s.Put(ctx, "o/ab/abc.pdf", []byte("%PDF-1.7"), "application/pdf")).To(Succeed())
		data, err := s.Get(ctx, "o/ab/abc.pdf")
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte("%PDF-1.7")))
	})

	It("overwrites an existing key", func() {
		Expect(s.Put(ctx, "k", []byte("one"), "")).To(Succeed())
		Expect(s.Put(ctx, "k", []byte("two"), "")).To(Succeed())
		data, err := s.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("two"))
	})

	It("reports unknown keys as not found", func() {
		_, err := s.Get(ctx, "missing")
		Expect(err).To(MatchError(common.ErrNotFound))
	})

	It("deletes idempotently", func() {
		Expect(s.Put(ctx, "k", []byte("x"), "")).To(Succeed())
		Expect(s.Delete(ctx, "k")).To(Succeed())
		Expect(s.Delete(ctx, "k")).To(Succeed())
		_, err := s.Get(ctx, "k")
		Expect(err).To(MatchError(common.ErrNotFound))
	})

	It("refuses keys escaping the store", func() {
		Expect(s.Put(ctx, "../etc/passwd", []byte("x"), "")).To(MatchError(common.ErrValidation))
	})
}

var _ = Describe("LocalStorage", func() {
	behaves(func() storage.Store {
		s, err := storage.NewLocalStorage(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		return s
	})

	It("lays blobs out under the base path", func() {
		dir := GinkgoT().TempDir()
		s, err := storage.NewLocalStorage(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Put(context.Background(), "o/ab/abc.png", []byte("x"), "")).To(Succeed())
		Expect(filepath.Join(dir, "o", "ab", "abc.png")).To(BeAnExistingFile())
	})
})

var _ = Describe("BoltStorage", func() {
	behaves(func() storage.Store {
		s, err := storage.NewBoltStorage(filepath.Join(GinkgoT().TempDir(), "blobs.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)
		return s
	})
})

var _ = Describe("Open", func() {
	It("rejects unknown backends", func() {
		_, err := storage.Open(context.Background(), common.StorageConfig{Backend: "tape"}, nil)
		Expect(err).To(MatchError(ContainSubstring("unknown storage backend")))
	})
})
