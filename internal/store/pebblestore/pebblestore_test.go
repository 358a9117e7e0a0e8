package pebblestore_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/store"
	"github.com/JushBJJ/Wormhole/internal/store/pebblestore"
)

var _ = Describe("Stores", func() {
	var (
		stores *pebblestore.Stores
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		stores, err = pebblestore.Open(pebblestore.Config{InMemory: true})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(stores.Close()).To(Succeed())
	})

	Describe("Identities", func() {
		It("should create and fetch an identity", func() {
			err := stores.Identities().Create(ctx, &model.Identity{ID: "42", Hash: "abcdef", Role: model.RoleUser})
			Expect(err).NotTo(HaveOccurred())

			got, err := stores.Identities().Get(ctx, "42")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Hash).To(Equal("abcdef"))
		})

		It("should reject a duplicate create", func() {
			identity := &model.Identity{ID: "42", Hash: "abcdef"}
			Expect(stores.Identities().Create(ctx, identity)).To(Succeed())
			Expect(stores.Identities().Create(ctx, identity)).To(MatchError(store.ErrAlreadyExists))
		})

		It("should return ErrNotFound for unknown ids", func() {
			_, err := stores.Identities().Get(ctx, "missing")
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("should resolve a prefix to the shortest then smallest hash", func() {
			Expect(stores.Identities().Create(ctx, &model.Identity{ID: "1", Hash: "ab99"})).To(Succeed())
			Expect(stores.Identities().Create(ctx, &model.Identity{ID: "2", Hash: "ab1"})).To(Succeed())
			Expect(stores.Identities().Create(ctx, &model.Identity{ID: "3", Hash: "ab0"})).To(Succeed())
			Expect(stores.Identities().Create(ctx, &model.Identity{ID: "4", Hash: "cd0"})).To(Succeed())

			got, err := stores.Identities().GetByHashPrefix(ctx, "ab")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal("3"))

			_, err = stores.Identities().GetByHashPrefix(ctx, "zz")
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("should persist updates and count records", func() {
			identity := &model.Identity{ID: "7", Hash: "h7"}
			Expect(stores.Identities().Create(ctx, identity)).To(Succeed())

			identity.Nonce = 12
			identity.Names = []string{"alice"}
			Expect(stores.Identities().Update(ctx, identity)).To(Succeed())

			got, err := stores.Identities().Get(ctx, "7")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Nonce).To(Equal(uint64(12)))
			Expect(got.Names).To(ConsistOf("alice"))

			n, err := stores.Identities().Count(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
		})
	})

	Describe("Channels", func() {
		a := model.Endpoint{Platform: "telegram", ChannelID: "-100"}
		b := model.Endpoint{Platform: "discord", ChannelID: "555"}
		c := model.Endpoint{Platform: "discord", ChannelID: "777"}

		BeforeEach(func() {
			Expect(stores.Channels().Create(ctx, &model.Channel{Endpoint: a, Category: "general"})).To(Succeed())
			Expect(stores.Channels().Create(ctx, &model.Channel{Endpoint: b, Category: "general"})).To(Succeed())
			Expect(stores.Channels().Create(ctx, &model.Channel{Endpoint: c, Category: "general-2"})).To(Succeed())
		})

		It("should not bind an endpoint twice", func() {
			err := stores.Channels().Create(ctx, &model.Channel{Endpoint: a, Category: "other"})
			Expect(err).To(MatchError(store.ErrAlreadyExists))
		})

		It("should list members without leaking similarly named categories", func() {
			members, err := stores.Channels().ListByCategory(ctx, "general")
			Expect(err).NotTo(HaveOccurred())
			Expect(members).To(HaveLen(2))

			counts, err := stores.Channels().CountByCategory(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(Equal(map[string]int{"general": 2, "general-2": 1}))
		})

		It("should update options", func() {
			Expect(stores.Channels().UpdateOptions(ctx, a, model.ChannelOptions{React: true})).To(Succeed())
			ch, err := stores.Channels().Get(ctx, a)
			Expect(err).NotTo(HaveOccurred())
			Expect(ch.Options.React).To(BeTrue())
		})

		It("should delete a membership and its index entry", func() {
			removed, err := stores.Channels().Delete(ctx, a)
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeTrue())

			removed, err = stores.Channels().Delete(ctx, a)
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeFalse())

			members, err := stores.Channels().ListByCategory(ctx, "general")
			Expect(err).NotTo(HaveOccurred())
			Expect(members).To(HaveLen(1))
			Expect(members[0].Endpoint).To(Equal(b))
		})
	})

	Describe("Categories", func() {
		It("should declare once and remove once", func() {
			created, err := stores.Categories().Declare(ctx, "general")
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			created, err = stores.Categories().Declare(ctx, "general")
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())

			list, err := stores.Categories().List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(1))

			removed, err := stores.Categories().Remove(ctx, "general")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeTrue())

			exists, err := stores.Categories().Exists(ctx, "general")
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})
	})

	Describe("Messages", func() {
		src := model.Endpoint{Platform: "telegram", ChannelID: "1"}
		dst := model.Endpoint{Platform: "discord", ChannelID: "2"}
		dst2 := model.Endpoint{Platform: "discord", ChannelID: "3"}

		It("should find a record by any of its permalinks", func() {
			err := stores.Messages().Save(ctx, &model.MessageRecord{
				ContentHash:     "h1",
				Source:          src,
				SourcePermalink: "tg/1/10",
				DeliveredLinks:  []model.DeliveredLink{{Endpoint: dst, Permalink: "dc/2/20"}},
			})
			Expect(err).NotTo(HaveOccurred())

			for _, link := range []string{"tg/1/10", "dc/2/20"} {
				rec, err := stores.Messages().GetByPermalink(ctx, link)
				Expect(err).NotTo(HaveOccurred())
				Expect(rec.ContentHash).To(Equal("h1"))
			}
		})

		It("should merge delivered links on resave", func() {
			Expect(stores.Messages().Save(ctx, &model.MessageRecord{
				ContentHash:    "h1",
				DeliveredLinks: []model.DeliveredLink{{Endpoint: dst, Permalink: "a"}},
			})).To(Succeed())
			Expect(stores.Messages().Save(ctx, &model.MessageRecord{
				ContentHash: "h1",
				DeliveredLinks: []model.DeliveredLink{
					{Endpoint: dst, Permalink: "ignored"},
					{Endpoint: dst2, Permalink: "b"},
				},
			})).To(Succeed())

			rec, err := stores.Messages().Get(ctx, "h1")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.DeliveredLinks).To(ConsistOf(
				model.DeliveredLink{Endpoint: dst, Permalink: "a"},
				model.DeliveredLink{Endpoint: dst2, Permalink: "b"},
			))
		})

		It("should resolve every copy of a repeated message", func() {
			Expect(stores.Messages().Save(ctx, &model.MessageRecord{
				ContentHash:     "h1",
				Source:          src,
				SourcePermalink: "tg/1/10",
				DeliveredLinks:  []model.DeliveredLink{{Endpoint: dst, Permalink: "dc/2/20"}},
			})).To(Succeed())
			Expect(stores.Messages().Save(ctx, &model.MessageRecord{
				ContentHash:     "h1",
				Source:          src,
				SourcePermalink: "tg/1/11",
				DeliveredLinks:  []model.DeliveredLink{{Endpoint: dst, Permalink: "dc/2/21"}},
			})).To(Succeed())

			for _, link := range []string{"tg/1/10", "dc/2/20", "tg/1/11", "dc/2/21"} {
				rec, err := stores.Messages().GetByPermalink(ctx, link)
				Expect(err).NotTo(HaveOccurred())
				Expect(rec.ContentHash).To(Equal("h1"))
			}

			rec, err := stores.Messages().Get(ctx, "h1")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.SourcePermalink).To(Equal("tg/1/10"))
			link, ok := rec.LinkFor(dst)
			Expect(ok).To(BeTrue())
			Expect(link).To(Equal("dc/2/20"))
			Expect(rec.Aliases).To(ConsistOf("tg/1/11", "dc/2/21"))
		})

		It("should drop aliases when a record is pruned", func() {
			old := time.Now().UTC().Add(-48 * time.Hour)
			Expect(stores.Messages().Save(ctx, &model.MessageRecord{ContentHash: "h1", SourcePermalink: "first", CreatedAt: old})).To(Succeed())
			Expect(stores.Messages().Save(ctx, &model.MessageRecord{ContentHash: "h1", SourcePermalink: "second"})).To(Succeed())

			_, err := stores.Messages().PruneBefore(ctx, time.Now().Add(-24*time.Hour))
			Expect(err).NotTo(HaveOccurred())
			_, err = stores.Messages().GetByPermalink(ctx, "second")
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("should prune records older than the cutoff", func() {
			now := time.Now().UTC()
			Expect(stores.Messages().Save(ctx, &model.MessageRecord{
				ContentHash: "old", SourcePermalink: "old-link", CreatedAt: now.Add(-48 * time.Hour),
			})).To(Succeed())
			Expect(stores.Messages().Save(ctx, &model.MessageRecord{
				ContentHash: "new", CreatedAt: now,
			})).To(Succeed())

			n, err := stores.Messages().PruneBefore(ctx, now.Add(-24*time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			_, err = stores.Messages().Get(ctx, "old")
			Expect(err).To(MatchError(store.ErrNotFound))
			_, err = stores.Messages().GetByPermalink(ctx, "old-link")
			Expect(err).To(MatchError(store.ErrNotFound))
			_, err = stores.Messages().Get(ctx, "new")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Bans", func() {
		It("should track bans per kind", func() {
			added, err := stores.Bans().Add(ctx, model.BanKindIdentity, "abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(added).To(BeTrue())

			added, err = stores.Bans().Add(ctx, model.BanKindIdentity, "abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(added).To(BeFalse())

			_, err = stores.Bans().Add(ctx, model.BanKindWord, "spam")
			Expect(err).NotTo(HaveOccurred())

			banned, err := stores.Bans().Contains(ctx, model.BanKindSpace, "abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(banned).To(BeFalse())

			words, err := stores.Bans().List(ctx, model.BanKindWord)
			Expect(err).NotTo(HaveOccurred())
			Expect(words).To(HaveLen(1))
			Expect(words[0].Value).To(Equal("spam"))

			removed, err := stores.Bans().Remove(ctx, model.BanKindIdentity, "abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeTrue())
		})
	})
})
