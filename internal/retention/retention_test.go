package retention_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/retention"
	"github.com/JushBJJ/Wormhole/internal/store"
	"github.com/JushBJJ/Wormhole/internal/store/pebblestore"
)

type failingPruner struct{}

func (failingPruner) PruneBefore(context.Context, time.Time) (int, error) {
	return 0, errors.New("disk gone")
}

var _ = Describe("Pruner", func() {
	var (
		ctx    context.Context
		stores *pebblestore.Stores
		now    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		stores, err = pebblestore.Open(pebblestore.Config{InMemory: true})
		Expect(err).NotTo(HaveOccurred())
		now = time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		Expect(stores.Close()).To(Succeed())
	})

	It("should reject an invalid cron expression", func() {
		_, err := retention.New(stores.Messages(), retention.Config{Cron: "every day", Period: time.Hour})
		Expect(err).To(MatchError(retention.ErrInvalidCron))
	})

	It("should reject a non-positive period", func() {
		_, err := retention.New(stores.Messages(), retention.Config{Cron: "0 3 * * *"})
		Expect(err).To(HaveOccurred())
	})

	It("should prune records older than the period", func() {
		Expect(stores.Messages().Save(ctx, &model.MessageRecord{
			ContentHash: "old", CreatedAt: now.Add(-31 * 24 * time.Hour),
		})).To(Succeed())
		Expect(stores.Messages().Save(ctx, &model.MessageRecord{
			ContentHash: "recent", CreatedAt: now.Add(-24 * time.Hour),
		})).To(Succeed())

		p, err := retention.New(stores.Messages(), retention.Config{Cron: "0 3 * * *", Period: 30 * 24 * time.Hour})
		Expect(err).NotTo(HaveOccurred())
		p.WithClock(func() time.Time { return now })

		n, err := p.PruneOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		_, err = stores.Messages().Get(ctx, "old")
		Expect(err).To(MatchError(store.ErrNotFound))
		_, err = stores.Messages().Get(ctx, "recent")
		Expect(err).NotTo(HaveOccurred())
	})

	It("should surface store failures", func() {
		p, err := retention.New(failingPruner{}, retention.Config{Cron: "0 3 * * *", Period: time.Hour})
		Expect(err).NotTo(HaveOccurred())
		_, err = p.PruneOnce(ctx)
		Expect(err).To(MatchError(ContainSubstring("disk gone")))
	})

	It("should return from Run when stopped", func() {
		p, err := retention.New(stores.Messages(), retention.Config{Cron: "0 3 * * *", Period: time.Hour})
		Expect(err).NotTo(HaveOccurred())

		done := make(chan struct{})
		go func() {
			defer close(done)
			p.Run(ctx)
		}()
		p.Stop()
		Eventually(done).Should(BeClosed())
	})

	It("should return from Run when the context ends", func() {
		p, err := retention.New(stores.Messages(), retention.Config{Cron: "0 3 * * *", Period: time.Hour})
		Expect(err).NotTo(HaveOccurred())

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			p.Run(runCtx)
		}()
		cancel()
		Eventually(done).Should(BeClosed())
	})
})
